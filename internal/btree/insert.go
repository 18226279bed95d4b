package btree

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/kitedb/kitedb/internal/bufferpool"
	"github.com/kitedb/kitedb/internal/storage"
)

// insertSafe reports whether an insert into node cannot split it. Leaves
// split once they reach maxSize-1 entries, internal pages at maxSize.
func insertSafe(n nodePage) bool {
	if n.isLeaf() {
		return n.size() < n.maxSize()-1
	}
	return n.size() < n.maxSize()
}

// Insert adds (key, rid) to the tree. It returns false when the key is
// already present. Descent holds exclusive latches and releases the guards
// above any node that cannot split.
func (t *Tree) Insert(key []byte, rid RID, _ *Txn) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}

	ctx := &opContext{}
	defer ctx.release()

	hg, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, fmt.Errorf("btree: write header page: %w", err)
	}
	ctx.header = hg
	root := headerView(hg.Data()).root()
	ctx.rootPageID = root

	// First entry: the root is a single leaf.
	if root == storage.InvalidPageID {
		g, err := t.bpm.NewPageGuarded()
		if err != nil {
			return false, fmt.Errorf("btree: allocate root leaf: %w", err)
		}
		leaf := leafView(g.DataMut(), t.keySize)
		leaf.init(storage.InvalidPageID, t.leafMaxSize)
		leaf.insert(key, rid, t.cmp)
		headerView(hg.DataMut()).setRoot(g.PageID())
		ctx.rootPageID = g.PageID()
		slog.Debug("btree root leaf created", "tree", t.name, "page", g.PageID())
		g.Drop()
		return true, nil
	}

	g, err := t.bpm.FetchPageWrite(root)
	if err != nil {
		return false, fmt.Errorf("btree: write page %d: %w", root, err)
	}
	ctx.push(g)
	if insertSafe(nodeView(g.Data())) {
		ctx.header.Drop()
		ctx.header = nil
	}

	for !nodeView(ctx.top().Data()).isLeaf() {
		inner := internalView(ctx.top().Data(), t.keySize)
		child, _ := inner.childOf(key, t.cmp)
		cg, err := t.bpm.FetchPageWrite(child)
		if err != nil {
			return false, fmt.Errorf("btree: write page %d: %w", child, err)
		}
		if insertSafe(nodeView(cg.Data())) {
			ctx.releaseAncestors()
		}
		ctx.push(cg)
	}

	leafG := ctx.top()
	leaf := leafView(leafG.Data(), t.keySize)
	if _, _, ok := leaf.findValue(key, t.cmp); ok {
		return false, nil
	}

	leaf = leafView(leafG.DataMut(), t.keySize)
	leaf.insert(key, rid, t.cmp)
	if leaf.size() < leaf.maxSize() {
		return true, nil
	}
	if err := t.splitLeaf(ctx, leafG); err != nil {
		return false, err
	}
	return true, nil
}

// splitLeaf moves the upper half of a full leaf into a fresh sibling and
// pushes the sibling's first key into the parent.
func (t *Tree) splitLeaf(ctx *opContext, leafG *bufferpool.WritePageGuard) error {
	leaf := leafView(leafG.DataMut(), t.keySize)
	n := leaf.size()
	m := leaf.minSize()

	ng, err := t.bpm.NewPageGuarded()
	if err != nil {
		return fmt.Errorf("btree: allocate split leaf: %w", err)
	}
	newLeaf := leafView(ng.DataMut(), t.keySize)
	newLeaf.init(leaf.parent(), t.leafMaxSize)
	newLeaf.copyHalfFrom(leaf, m, n)
	newLeaf.setSize(n - m)
	leaf.setSize(m)
	newLeaf.setNextPageID(leaf.nextPageID())
	leaf.setNextPageID(ng.PageID())

	// The source buffer shifts on later inserts; the pushed key must own
	// its bytes.
	pushed := bytes.Clone(newLeaf.keyAt(0))
	newID := ng.PageID()
	ng.Drop()

	slog.Debug("btree leaf split", "tree", t.name,
		"page", leafG.PageID(), "new_page", newID)
	return t.insertInParent(ctx, leafG.PageID(), pushed, newID)
}

// insertInParent links a freshly split-off sibling into the parent of
// oldID, splitting upward as needed. key is the separator between the two.
func (t *Tree) insertInParent(ctx *opContext, oldID storage.PageID, key []byte, newID storage.PageID) error {
	if ctx.isRoot(oldID) {
		rg, err := t.bpm.NewPageGuarded()
		if err != nil {
			return fmt.Errorf("btree: allocate new root: %w", err)
		}
		root := internalView(rg.DataMut(), t.keySize)
		root.init(storage.InvalidPageID, t.internalMaxSize)
		root.setEntryAt(0, make([]byte, t.keySize), oldID)
		root.setEntryAt(1, key, newID)
		root.setSize(2)
		rootID := rg.PageID()
		rg.Drop()

		if err := t.reparent(ctx, oldID, rootID); err != nil {
			return err
		}
		if err := t.reparent(ctx, newID, rootID); err != nil {
			return err
		}
		headerView(ctx.header.DataMut()).setRoot(rootID)
		ctx.rootPageID = rootID
		slog.Debug("btree root grew", "tree", t.name, "root", rootID)
		return nil
	}

	og, ok := ctx.guardOf(oldID)
	if !ok {
		panic("btree: split path does not hold the splitting page")
	}
	parentID := nodeView(og.Data()).parent()
	pg, ok := ctx.guardOf(parentID)
	if !ok {
		panic("btree: split path does not hold the parent page")
	}

	parent := internalView(pg.DataMut(), t.keySize)
	if parent.size() < parent.maxSize() {
		parent.insert(key, newID, t.cmp)
		return nil
	}

	// Parent is full: split it around its median, which is either the
	// entry at minSize, the incoming key itself, or the entry before
	// minSize depending on where the incoming key lands.
	n := parent.size()
	m := parent.minSize()
	pushed := bytes.Clone(parent.keyAt(m))
	last := bytes.Clone(parent.keyAt(m - 1))

	ng, err := t.bpm.NewPageGuarded()
	if err != nil {
		return fmt.Errorf("btree: allocate split page: %w", err)
	}
	newInner := internalView(ng.DataMut(), t.keySize)
	newInner.init(parent.parent(), t.internalMaxSize)

	var promote []byte
	switch {
	case t.cmp(key, pushed) > 0:
		newInner.copyHalfFrom(parent, m, n)
		newInner.setSize(n - m)
		parent.setSize(m)
		newInner.insert(key, newID, t.cmp)
		promote = pushed
	case t.cmp(key, last) > 0:
		// The incoming key is the median: it moves up, its child leads
		// the new page.
		newInner.copyHalfFrom(parent, m, n)
		newInner.setSize(n - m)
		newInner.shiftData(1)
		newInner.setEntryAt(0, key, newID)
		parent.setSize(m)
		promote = bytes.Clone(key)
	default:
		newInner.copyHalfFrom(parent, m-1, n)
		newInner.setSize(n - m + 1)
		parent.setSize(m - 1)
		parent.insert(key, newID, t.cmp)
		promote = last
	}

	for i := 0; i < newInner.size(); i++ {
		if err := t.reparent(ctx, newInner.childAt(i), ng.PageID()); err != nil {
			return err
		}
	}
	newInnerID := ng.PageID()
	ng.Drop()

	slog.Debug("btree internal split", "tree", t.name,
		"page", parentID, "new_page", newInnerID)
	return t.insertInParent(ctx, parentID, promote, newInnerID)
}

// reparent rewrites a node's parent pointer, reusing a held guard when the
// node is on the current write path.
func (t *Tree) reparent(ctx *opContext, id, parent storage.PageID) error {
	if g, ok := ctx.guardOf(id); ok {
		nodeView(g.DataMut()).setParent(parent)
		return nil
	}
	g, err := t.bpm.FetchPageBasic(id)
	if err != nil {
		return fmt.Errorf("btree: fetch page %d: %w", id, err)
	}
	nodeView(g.DataMut()).setParent(parent)
	g.Drop()
	return nil
}
