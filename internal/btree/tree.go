package btree

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kitedb/kitedb/internal/bufferpool"
	"github.com/kitedb/kitedb/internal/storage"
)

var (
	// ErrEmptyTree is returned by lookups and scans over a tree with no
	// entries.
	ErrEmptyTree = errors.New("btree: tree is empty")
	// ErrBadKeyWidth rejects unsupported fixed key widths.
	ErrBadKeyWidth = errors.New("btree: unsupported key width")
	// ErrKeySize rejects a key whose length differs from the tree's width.
	ErrKeySize = errors.New("btree: key length does not match tree key width")
	// ErrBadFanout rejects node sizes whose entries do not fit in a page.
	ErrBadFanout = errors.New("btree: node size does not fit in a page")
)

// Tree is a disk-backed B+Tree index. All node state lives in buffer pool
// pages; the only out-of-page state is the header page id holding the root
// pointer. Mutating operations latch-crab a write path from the header down,
// lookups crab with shared latches.
type Tree struct {
	name            string
	bpm             *bufferpool.Manager
	cmp             Comparator
	keySize         int
	leafMaxSize     int
	internalMaxSize int
	headerPageID    storage.PageID
}

// MaxLeafSize is the largest leaf entry count for the given key width.
func MaxLeafSize(keySize int) int {
	return (storage.PageSize - leafHeaderSize) / (keySize + ridSize)
}

// MaxInternalSize is the largest internal entry count for the given key
// width.
func MaxInternalSize(keySize int) int {
	return (storage.PageSize - internalHeaderSize) / (keySize + 4)
}

func validateSizes(keySize, leafMax, internalMax int) error {
	if !ValidKeyWidth(keySize) {
		return fmt.Errorf("%w: %d", ErrBadKeyWidth, keySize)
	}
	if leafMax < 2 || leafMax > MaxLeafSize(keySize) {
		return fmt.Errorf("%w: leaf max size %d", ErrBadFanout, leafMax)
	}
	if internalMax < 3 || internalMax > MaxInternalSize(keySize) {
		return fmt.Errorf("%w: internal max size %d", ErrBadFanout, internalMax)
	}
	return nil
}

// New initializes a fresh tree on headerPageID, resetting its root pointer.
// The header page must already be allocated by the caller.
func New(name string, headerPageID storage.PageID, bpm *bufferpool.Manager,
	cmp Comparator, keySize, leafMaxSize, internalMaxSize int) (*Tree, error) {

	if err := validateSizes(keySize, leafMaxSize, internalMaxSize); err != nil {
		return nil, err
	}

	g, err := bpm.FetchPageWrite(headerPageID)
	if err != nil {
		return nil, fmt.Errorf("btree: init header page %d: %w", headerPageID, err)
	}
	headerView(g.DataMut()).setRoot(storage.InvalidPageID)
	g.Drop()

	slog.Debug("btree created", "name", name, "header_page", headerPageID,
		"key_size", keySize, "leaf_max", leafMaxSize, "internal_max", internalMaxSize)

	return &Tree{
		name:            name,
		bpm:             bpm,
		cmp:             cmp,
		keySize:         keySize,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		headerPageID:    headerPageID,
	}, nil
}

// Open attaches to an existing tree without touching the header.
func Open(name string, headerPageID storage.PageID, bpm *bufferpool.Manager,
	cmp Comparator, keySize, leafMaxSize, internalMaxSize int) (*Tree, error) {

	if err := validateSizes(keySize, leafMaxSize, internalMaxSize); err != nil {
		return nil, err
	}
	return &Tree{
		name:            name,
		bpm:             bpm,
		cmp:             cmp,
		keySize:         keySize,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		headerPageID:    headerPageID,
	}, nil
}

func (t *Tree) Name() string { return t.name }

func (t *Tree) checkKey(key []byte) error {
	if len(key) != t.keySize {
		return fmt.Errorf("%w: got %d, want %d", ErrKeySize, len(key), t.keySize)
	}
	return nil
}

// IsEmpty reads the root pointer from the header page.
func (t *Tree) IsEmpty() (bool, error) {
	g, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return false, fmt.Errorf("btree: read header page: %w", err)
	}
	defer g.Drop()
	return headerView(g.Data()).root() == storage.InvalidPageID, nil
}

// RootPageID returns the current root page id, or InvalidPageID when the
// tree is empty.
func (t *Tree) RootPageID() (storage.PageID, error) {
	g, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return storage.InvalidPageID, fmt.Errorf("btree: read header page: %w", err)
	}
	defer g.Drop()
	return headerView(g.Data()).root(), nil
}

// GetValue looks key up and returns its rid. Descent uses shared latches
// and crabs: the child is latched before the parent guard is dropped, so a
// concurrent split can never slip between the two.
func (t *Tree) GetValue(key []byte, _ *Txn) (RID, bool, error) {
	if err := t.checkKey(key); err != nil {
		return RID{}, false, err
	}

	hg, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return RID{}, false, fmt.Errorf("btree: read header page: %w", err)
	}
	root := headerView(hg.Data()).root()
	if root == storage.InvalidPageID {
		hg.Drop()
		return RID{}, false, nil
	}

	g, err := t.bpm.FetchPageRead(root)
	hg.Drop()
	if err != nil {
		return RID{}, false, fmt.Errorf("btree: read page %d: %w", root, err)
	}

	for {
		node := nodeView(g.Data())
		if node.isLeaf() {
			leaf := leafView(g.Data(), t.keySize)
			rid, _, ok := leaf.findValue(key, t.cmp)
			g.Drop()
			return rid, ok, nil
		}

		inner := internalView(g.Data(), t.keySize)
		child, _ := inner.childOf(key, t.cmp)
		cg, err := t.bpm.FetchPageRead(child)
		g.Drop()
		if err != nil {
			return RID{}, false, fmt.Errorf("btree: read page %d: %w", child, err)
		}
		g = cg
	}
}
