package btree

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/kitedb/kitedb/internal/storage"
)

// deleteSafe reports whether removing one entry from node cannot trigger a
// rebalance. A root leaf never rebalances but is freed when it empties; an
// internal root collapses when it drops to a single child.
func deleteSafe(n nodePage, isRoot bool) bool {
	if isRoot {
		if n.isLeaf() {
			return n.size() > 1
		}
		return n.size() > 2
	}
	return n.size() > n.minSize()
}

// Remove deletes key from the tree. It returns false when the key is not
// present. Pages emptied by merges or a root collapse go back to the disk
// manager only after every latch on the path is released.
func (t *Tree) Remove(key []byte, _ *Txn) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}

	ctx := &opContext{slots: make(map[storage.PageID]int)}
	defer ctx.release()

	removed, err := t.removeLocked(ctx, key)
	ctx.release()
	if err != nil {
		return removed, err
	}

	for _, id := range ctx.freed {
		if err := t.bpm.DeletePage(id); err != nil {
			return removed, fmt.Errorf("btree: release page %d: %w", id, err)
		}
	}
	return removed, nil
}

func (t *Tree) removeLocked(ctx *opContext, key []byte) (bool, error) {
	hg, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, fmt.Errorf("btree: write header page: %w", err)
	}
	ctx.header = hg
	root := headerView(hg.Data()).root()
	ctx.rootPageID = root

	if root == storage.InvalidPageID {
		return false, nil
	}

	g, err := t.bpm.FetchPageWrite(root)
	if err != nil {
		return false, fmt.Errorf("btree: write page %d: %w", root, err)
	}
	ctx.push(g)
	if deleteSafe(nodeView(g.Data()), true) {
		ctx.header.Drop()
		ctx.header = nil
	}

	for !nodeView(ctx.top().Data()).isLeaf() {
		inner := internalView(ctx.top().Data(), t.keySize)
		child, slot := inner.childOf(key, t.cmp)
		ctx.slots[child] = slot
		cg, err := t.bpm.FetchPageWrite(child)
		if err != nil {
			return false, fmt.Errorf("btree: write page %d: %w", child, err)
		}
		if deleteSafe(nodeView(cg.Data()), false) {
			ctx.releaseAncestors()
		}
		ctx.push(cg)
	}

	return t.deleteEntry(ctx, key)
}

// deleteEntry removes key from the leaf at the bottom of the write path and
// rebalances upward.
func (t *Tree) deleteEntry(ctx *opContext, key []byte) (bool, error) {
	leafG := ctx.top()
	leaf := leafView(leafG.Data(), t.keySize)
	rid, _, ok := leaf.findValue(key, t.cmp)
	if !ok {
		return false, nil
	}
	leaf = leafView(leafG.DataMut(), t.keySize)
	leaf.delete(key, rid, t.cmp)

	if ctx.isRoot(leafG.PageID()) {
		if leaf.size() == 0 {
			headerView(ctx.header.DataMut()).setRoot(storage.InvalidPageID)
			ctx.rootPageID = storage.InvalidPageID
			ctx.freed = append(ctx.freed, leafG.PageID())
			slog.Debug("btree emptied", "tree", t.name)
		}
		return true, nil
	}
	if leaf.size() >= leaf.minSize() {
		return true, nil
	}

	if err := t.rebalanceLeaf(ctx, leafG.PageID()); err != nil {
		return true, err
	}
	return true, nil
}

// rebalanceLeaf restores the underfull leaf at id by merging with or
// borrowing from an adjacent sibling. The sibling is the right neighbor
// unless the leaf is its parent's last child.
func (t *Tree) rebalanceLeaf(ctx *opContext, id storage.PageID) error {
	nodeG, ok := ctx.guardOf(id)
	if !ok {
		panic("btree: rebalance path does not hold the leaf")
	}
	node := leafView(nodeG.DataMut(), t.keySize)
	parentID := node.parent()
	parentG, ok := ctx.guardOf(parentID)
	if !ok {
		panic("btree: rebalance path does not hold the parent")
	}
	parent := internalView(parentG.DataMut(), t.keySize)

	idx := ctx.slots[id]
	isLast := idx == parent.size()-1
	var sibIdx int
	if isLast {
		sibIdx = idx - 1
	} else {
		sibIdx = idx + 1
	}
	sibG, err := t.bpm.FetchPageWrite(parent.childAt(sibIdx))
	if err != nil {
		return fmt.Errorf("btree: write page %d: %w", parent.childAt(sibIdx), err)
	}
	defer sibG.Drop()
	sib := leafView(sibG.DataMut(), t.keySize)

	var left, right leafPage
	var rightID storage.PageID
	var sepIdx int
	if isLast {
		left, right = sib, node
		rightID = id
		sepIdx = idx
	} else {
		left, right = node, sib
		rightID = sibG.PageID()
		sepIdx = sibIdx
	}

	if left.size()+right.size() < left.maxSize() {
		sepKey := bytes.Clone(parent.keyAt(sepIdx))
		left.merge(right, right.size())
		left.setNextPageID(right.nextPageID())
		ctx.freed = append(ctx.freed, rightID)
		slog.Debug("btree leaf merge", "tree", t.name, "freed", rightID)
		return t.deleteInternalEntry(ctx, parentID, sepKey, rightID)
	}

	// Borrow one entry across the separator.
	if isLast {
		right.shiftData(1)
		right.setEntryAt(0, left.keyAt(left.size()-1), left.ridAt(left.size()-1))
		left.increaseSize(-1)
	} else {
		left.setEntryAt(left.size(), right.keyAt(0), right.ridAt(0))
		left.increaseSize(1)
		right.shiftData(-1)
	}
	parent.setKeyAt(sepIdx, right.keyAt(0))
	return nil
}

// deleteInternalEntry removes (key, child) from the internal node at id and
// rebalances upward, collapsing the root when it is left with one child.
func (t *Tree) deleteInternalEntry(ctx *opContext, id storage.PageID, key []byte, child storage.PageID) error {
	nodeG, ok := ctx.guardOf(id)
	if !ok {
		panic("btree: rebalance path does not hold the internal page")
	}
	node := internalView(nodeG.DataMut(), t.keySize)
	node.delete(key, child, t.cmp)

	if ctx.isRoot(id) {
		if node.size() == 1 {
			only := node.childAt(0)
			if err := t.reparent(ctx, only, storage.InvalidPageID); err != nil {
				return err
			}
			headerView(ctx.header.DataMut()).setRoot(only)
			ctx.rootPageID = only
			ctx.freed = append(ctx.freed, id)
			slog.Debug("btree root collapsed", "tree", t.name, "root", only)
		}
		return nil
	}
	if node.size() >= node.minSize() {
		return nil
	}

	parentID := node.parent()
	parentG, ok := ctx.guardOf(parentID)
	if !ok {
		panic("btree: rebalance path does not hold the parent")
	}
	parent := internalView(parentG.DataMut(), t.keySize)

	idx := ctx.slots[id]
	isLast := idx == parent.size()-1
	var sibIdx int
	if isLast {
		sibIdx = idx - 1
	} else {
		sibIdx = idx + 1
	}
	sibG, err := t.bpm.FetchPageWrite(parent.childAt(sibIdx))
	if err != nil {
		return fmt.Errorf("btree: write page %d: %w", parent.childAt(sibIdx), err)
	}
	defer sibG.Drop()
	sib := internalView(sibG.DataMut(), t.keySize)

	var left, right internalPage
	var leftID, rightID storage.PageID
	var sepIdx int
	if isLast {
		left, right = sib, node
		leftID, rightID = sibG.PageID(), id
		sepIdx = idx
	} else {
		left, right = node, sib
		leftID, rightID = id, sibG.PageID()
		sepIdx = sibIdx
	}
	sepKey := bytes.Clone(parent.keyAt(sepIdx))

	if left.size()+right.size() <= left.maxSize() {
		// The separator comes down as the routing key for the right
		// page's leading child.
		right.setKeyAt(0, sepKey)
		moved := right.size()
		left.merge(right, moved)
		for i := left.size() - moved; i < left.size(); i++ {
			if err := t.reparent(ctx, left.childAt(i), leftID); err != nil {
				return err
			}
		}
		ctx.freed = append(ctx.freed, rightID)
		slog.Debug("btree internal merge", "tree", t.name, "into", leftID, "freed", rightID)
		return t.deleteInternalEntry(ctx, parentID, sepKey, rightID)
	}

	// Rotate one child across the separator.
	if isLast {
		movedChild := left.childAt(left.size() - 1)
		movedKey := bytes.Clone(left.keyAt(left.size() - 1))
		right.shiftData(1)
		right.setEntryAt(0, make([]byte, t.keySize), movedChild)
		right.setKeyAt(1, sepKey)
		left.increaseSize(-1)
		parent.setKeyAt(sepIdx, movedKey)
		return t.reparent(ctx, movedChild, rightID)
	}
	movedChild := right.childAt(0)
	newSep := bytes.Clone(right.keyAt(1))
	left.setEntryAt(left.size(), sepKey, movedChild)
	left.increaseSize(1)
	right.shiftData(-1)
	parent.setKeyAt(sepIdx, newSep)
	return t.reparent(ctx, movedChild, leftID)
}
