package btree

import (
	"bytes"
	"fmt"

	"github.com/kitedb/kitedb/internal/storage"
)

// Iterator walks leaf entries in key order. It holds no latch between
// calls: each step pins the current leaf, copies the entry out, and drops
// the pin, so concurrent readers and the iterator never block each other.
type Iterator struct {
	t         *Tree
	curPageID storage.PageID
	index     int
	key       []byte
	rid       RID
}

// End is the past-the-last sentinel.
func (t *Tree) End() *Iterator {
	return &Iterator{t: t, curPageID: storage.InvalidPageID, index: -1}
}

// Begin positions at the smallest key. An empty tree yields ErrEmptyTree.
func (t *Tree) Begin() (*Iterator, error) {
	hg, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, fmt.Errorf("btree: read header page: %w", err)
	}
	root := headerView(hg.Data()).root()
	if root == storage.InvalidPageID {
		hg.Drop()
		return nil, ErrEmptyTree
	}

	g, err := t.bpm.FetchPageRead(root)
	hg.Drop()
	if err != nil {
		return nil, fmt.Errorf("btree: read page %d: %w", root, err)
	}
	for !nodeView(g.Data()).isLeaf() {
		inner := internalView(g.Data(), t.keySize)
		child := inner.childAt(0)
		cg, err := t.bpm.FetchPageRead(child)
		g.Drop()
		if err != nil {
			return nil, fmt.Errorf("btree: read page %d: %w", child, err)
		}
		g = cg
	}
	defer g.Drop()

	leaf := leafView(g.Data(), t.keySize)
	it := &Iterator{t: t, curPageID: g.PageID(), index: 0}
	it.capture(leaf)
	return it, nil
}

// BeginAt positions at key, or at End when the key is absent.
func (t *Tree) BeginAt(key []byte) (*Iterator, error) {
	if err := t.checkKey(key); err != nil {
		return nil, err
	}

	hg, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, fmt.Errorf("btree: read header page: %w", err)
	}
	root := headerView(hg.Data()).root()
	if root == storage.InvalidPageID {
		hg.Drop()
		return nil, ErrEmptyTree
	}

	g, err := t.bpm.FetchPageRead(root)
	hg.Drop()
	if err != nil {
		return nil, fmt.Errorf("btree: read page %d: %w", root, err)
	}
	for !nodeView(g.Data()).isLeaf() {
		inner := internalView(g.Data(), t.keySize)
		child, _ := inner.childOf(key, t.cmp)
		cg, err := t.bpm.FetchPageRead(child)
		g.Drop()
		if err != nil {
			return nil, fmt.Errorf("btree: read page %d: %w", child, err)
		}
		g = cg
	}
	defer g.Drop()

	leaf := leafView(g.Data(), t.keySize)
	_, idx, ok := leaf.findValue(key, t.cmp)
	if !ok {
		return t.End(), nil
	}
	it := &Iterator{t: t, curPageID: g.PageID(), index: idx}
	it.capture(leaf)
	return it, nil
}

func (it *Iterator) capture(leaf leafPage) {
	it.key = bytes.Clone(leaf.keyAt(it.index))
	it.rid = leaf.ridAt(it.index)
}

// IsEnd reports whether the iterator is past the last entry.
func (it *Iterator) IsEnd() bool {
	return it.curPageID == storage.InvalidPageID
}

// Next advances one entry, moving to the right sibling at a page boundary
// and to the End sentinel past the last entry.
func (it *Iterator) Next() error {
	if it.IsEnd() {
		return nil
	}

	g, err := it.t.bpm.FetchPageRead(it.curPageID)
	if err != nil {
		return fmt.Errorf("btree: read page %d: %w", it.curPageID, err)
	}
	leaf := leafView(g.Data(), it.t.keySize)

	it.index++
	if it.index < leaf.size() {
		it.capture(leaf)
		g.Drop()
		return nil
	}

	next := leaf.nextPageID()
	g.Drop()
	if next == storage.InvalidPageID {
		it.curPageID = storage.InvalidPageID
		it.index = -1
		it.key = nil
		it.rid = RID{}
		return nil
	}

	ng, err := it.t.bpm.FetchPageRead(next)
	if err != nil {
		return fmt.Errorf("btree: read page %d: %w", next, err)
	}
	it.curPageID = next
	it.index = 0
	it.capture(leafView(ng.Data(), it.t.keySize))
	ng.Drop()
	return nil
}

// Key returns the current key. The slice is a copy owned by the iterator.
func (it *Iterator) Key() []byte { return it.key }

// RID returns the current value.
func (it *Iterator) RID() RID { return it.rid }

// Entry returns the current (key, rid) pair.
func (it *Iterator) Entry() ([]byte, RID) { return it.key, it.rid }

// Equal reports whether two iterators of the same tree point at the same
// position.
func (it *Iterator) Equal(other *Iterator) bool {
	return it.t == other.t && it.curPageID == other.curPageID && it.index == other.index
}
