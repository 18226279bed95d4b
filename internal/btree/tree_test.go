package btree

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitedb/kitedb/internal/bufferpool"
	"github.com/kitedb/kitedb/internal/storage"
)

// newTestTree builds a tree over a file-backed pool in a temp directory.
// Page 0 is the header page.
func newTestTree(t *testing.T, leafMax, internalMax, poolSize int) (*Tree, *bufferpool.Manager) {
	t.Helper()

	dir, err := os.MkdirTemp("", "kitedb-btree-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	dm, err := storage.NewFileDiskManager(filepath.Join(dir, "kite.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	bpm := bufferpool.NewManager(poolSize, dm, 2, nil)

	hdr, err := bpm.NewPage()
	require.NoError(t, err)
	require.True(t, bpm.UnpinPage(hdr.PageID(), true))

	tr, err := New("test", hdr.PageID(), bpm, CompareBytes, Int64KeyWidth, leafMax, internalMax)
	require.NoError(t, err)
	return tr, bpm
}

func insertInt(t *testing.T, tr *Tree, v int64) {
	t.Helper()
	ok, err := tr.Insert(Int64Key(v), RID{PageID: storage.PageID(v), Slot: uint16(v)}, nil)
	require.NoError(t, err)
	require.True(t, ok, "insert %d", v)
}

func removeInt(t *testing.T, tr *Tree, v int64) {
	t.Helper()
	ok, err := tr.Remove(Int64Key(v), nil)
	require.NoError(t, err)
	require.True(t, ok, "remove %d", v)
}

func requireFound(t *testing.T, tr *Tree, v int64) {
	t.Helper()
	rid, ok, err := tr.GetValue(Int64Key(v), nil)
	require.NoError(t, err)
	require.True(t, ok, "key %d not found", v)
	require.Equal(t, RID{PageID: storage.PageID(v), Slot: uint16(v)}, rid)
}

func requireAbsent(t *testing.T, tr *Tree, v int64) {
	t.Helper()
	_, ok, err := tr.GetValue(Int64Key(v), nil)
	require.NoError(t, err)
	require.False(t, ok, "key %d unexpectedly found", v)
}

// validate walks the whole tree checking size bounds and key order.
func validate(t *testing.T, tr *Tree) {
	t.Helper()
	root, err := tr.RootPageID()
	require.NoError(t, err)
	if root == storage.InvalidPageID {
		return
	}
	validateNode(t, tr, root, true)
}

func validateNode(t *testing.T, tr *Tree, id storage.PageID, isRoot bool) {
	t.Helper()
	g, err := tr.bpm.FetchPageBasic(id)
	require.NoError(t, err)
	defer g.Drop()

	node := nodeView(g.Data())
	if node.isLeaf() {
		leaf := leafView(g.Data(), tr.keySize)
		require.Less(t, leaf.size(), leaf.maxSize(), "leaf p%d over capacity", id)
		if !isRoot {
			require.GreaterOrEqual(t, leaf.size(), leaf.minSize(), "leaf p%d underfull", id)
		}
		for i := 1; i < leaf.size(); i++ {
			require.Negative(t, tr.cmp(leaf.keyAt(i-1), leaf.keyAt(i)), "leaf p%d out of order", id)
		}
		return
	}

	inner := internalView(g.Data(), tr.keySize)
	require.LessOrEqual(t, inner.size(), inner.maxSize(), "internal p%d over capacity", id)
	if isRoot {
		require.GreaterOrEqual(t, inner.size(), 2, "internal root p%d should have collapsed", id)
	} else {
		require.GreaterOrEqual(t, inner.size(), inner.minSize(), "internal p%d underfull", id)
	}
	for i := 2; i < inner.size(); i++ {
		require.Negative(t, tr.cmp(inner.keyAt(i-1), inner.keyAt(i)), "internal p%d out of order", id)
	}
	for i := 0; i < inner.size(); i++ {
		validateNode(t, tr, inner.childAt(i), false)
	}
}

func TestTree_InsertAndGet(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
	requireAbsent(t, tr, 1)

	insertInt(t, tr, 1)
	empty, err = tr.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)
	requireFound(t, tr, 1)
	requireAbsent(t, tr, 2)
}

func TestTree_DuplicateInsertReturnsFalse(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	insertInt(t, tr, 7)
	ok, err := tr.Insert(Int64Key(7), RID{Slot: 99}, nil)
	require.NoError(t, err)
	require.False(t, ok)

	// The original value survives.
	requireFound(t, tr, 7)
}

// Leaf capacity 4 splits on the fourth insert: five sequential keys end up
// as {1,2} and {3,4,5} under an internal root with separator 3.
func TestTree_LeafSplitShape(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	for v := int64(1); v <= 5; v++ {
		insertInt(t, tr, v)
	}
	for v := int64(1); v <= 5; v++ {
		requireFound(t, tr, v)
	}

	root, err := tr.RootPageID()
	require.NoError(t, err)
	g, err := tr.bpm.FetchPageBasic(root)
	require.NoError(t, err)
	defer g.Drop()

	inner := internalView(g.Data(), tr.keySize)
	require.False(t, inner.isLeaf())
	require.Equal(t, 2, inner.size())
	require.Equal(t, int64(3), DecodeInt64Key(inner.keyAt(1)))

	lg, err := tr.bpm.FetchPageBasic(inner.childAt(0))
	require.NoError(t, err)
	defer lg.Drop()
	left := leafView(lg.Data(), tr.keySize)
	require.Equal(t, 2, left.size())
	require.Equal(t, inner.childAt(1), left.nextPageID())

	rg, err := tr.bpm.FetchPageBasic(inner.childAt(1))
	require.NoError(t, err)
	defer rg.Drop()
	right := leafView(rg.Data(), tr.keySize)
	require.Equal(t, 3, right.size())
	require.Equal(t, int64(3), DecodeInt64Key(right.keyAt(0)))
}

// Deleting back down to three keys merges the leaves and collapses the
// root: the tree ends as a single root leaf {1,2,3}.
func TestTree_DeleteMergeCollapsesRoot(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	for v := int64(1); v <= 5; v++ {
		insertInt(t, tr, v)
	}
	removeInt(t, tr, 5)
	removeInt(t, tr, 4)

	root, err := tr.RootPageID()
	require.NoError(t, err)
	g, err := tr.bpm.FetchPageBasic(root)
	require.NoError(t, err)
	defer g.Drop()

	leaf := leafView(g.Data(), tr.keySize)
	require.True(t, leaf.isLeaf())
	require.Equal(t, 3, leaf.size())
	require.Equal(t, storage.InvalidPageID, leaf.nextPageID())
	for v := int64(1); v <= 3; v++ {
		requireFound(t, tr, v)
	}
	requireAbsent(t, tr, 4)
}

// An underfull leaf with a big right sibling borrows instead of merging,
// and the parent separator follows the moved entry.
func TestTree_DeleteRedistributesFromRightSibling(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	for v := int64(1); v <= 5; v++ {
		insertInt(t, tr, v)
	}
	removeInt(t, tr, 2)

	root, err := tr.RootPageID()
	require.NoError(t, err)
	g, err := tr.bpm.FetchPageBasic(root)
	require.NoError(t, err)
	defer g.Drop()

	inner := internalView(g.Data(), tr.keySize)
	require.False(t, inner.isLeaf())
	require.Equal(t, int64(4), DecodeInt64Key(inner.keyAt(1)))

	for _, v := range []int64{1, 3, 4, 5} {
		requireFound(t, tr, v)
	}
	validate(t, tr)
}

func TestTree_RemoveLastKeyEmptiesTree(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	insertInt(t, tr, 9)
	removeInt(t, tr, 9)

	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
	requireAbsent(t, tr, 9)

	// Removing again, and from an empty tree, is a clean no-op.
	ok, err := tr.Remove(Int64Key(9), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTree_RemoveMissingReturnsFalse(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	insertInt(t, tr, 1)
	ok, err := tr.Remove(Int64Key(2), nil)
	require.NoError(t, err)
	require.False(t, ok)
	requireFound(t, tr, 1)
}

func TestTree_Validation(t *testing.T) {
	tr, bpm := newTestTree(t, 4, 5, 16)

	_, err := New("bad", 0, bpm, CompareBytes, 7, 4, 5)
	require.ErrorIs(t, err, ErrBadKeyWidth)
	_, err = New("bad", 0, bpm, CompareBytes, Int64KeyWidth, 1, 5)
	require.ErrorIs(t, err, ErrBadFanout)
	_, err = Open("bad", 0, bpm, CompareBytes, Int64KeyWidth, 4, MaxInternalSize(Int64KeyWidth)+1)
	require.ErrorIs(t, err, ErrBadFanout)

	_, err = tr.Insert(make([]byte, 4), RID{}, nil)
	require.ErrorIs(t, err, ErrKeySize)
	_, _, err = tr.GetValue(make([]byte, 16), nil)
	require.ErrorIs(t, err, ErrKeySize)
	_, err = tr.Remove(nil, nil)
	require.ErrorIs(t, err, ErrKeySize)
}

// Small fanout plus a pool much smaller than the tree: splits, merges, and
// eviction all get exercised.
func TestTree_BulkInsertRemoveRandomOrder(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 32)

	const n = 400
	rng := rand.New(rand.NewSource(1))
	keys := rng.Perm(n)

	for _, k := range keys {
		insertInt(t, tr, int64(k))
	}
	validate(t, tr)
	for v := int64(0); v < n; v++ {
		requireFound(t, tr, v)
	}

	it, err := tr.Begin()
	require.NoError(t, err)
	for v := int64(0); v < n; v++ {
		require.False(t, it.IsEnd())
		require.Equal(t, v, DecodeInt64Key(it.Key()))
		require.NoError(t, it.Next())
	}
	require.True(t, it.IsEnd())

	// Remove odd keys in random order.
	for _, k := range keys {
		if k%2 == 1 {
			removeInt(t, tr, int64(k))
		}
	}
	validate(t, tr)
	for v := int64(0); v < n; v++ {
		if v%2 == 0 {
			requireFound(t, tr, v)
		} else {
			requireAbsent(t, tr, v)
		}
	}

	for _, k := range keys {
		if k%2 == 0 {
			removeInt(t, tr, int64(k))
		}
	}
	empty, err := tr.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
	_, err = tr.Begin()
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestTree_ReopenSeesFlushedData(t *testing.T) {
	dir, err := os.MkdirTemp("", "kitedb-btree-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	dm, err := storage.NewFileDiskManager(filepath.Join(dir, "kite.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	bpm := bufferpool.NewManager(16, dm, 2, nil)
	hdr, err := bpm.NewPage()
	require.NoError(t, err)
	hdrID := hdr.PageID()
	require.True(t, bpm.UnpinPage(hdrID, true))

	tr, err := New("reopen", hdrID, bpm, CompareBytes, Int64KeyWidth, 4, 5)
	require.NoError(t, err)
	for v := int64(0); v < 50; v++ {
		insertInt(t, tr, v)
	}
	require.NoError(t, bpm.FlushAllPages())

	// Fresh pool over the same file.
	bpm2 := bufferpool.NewManager(16, dm, 2, nil)
	tr2, err := Open("reopen", hdrID, bpm2, CompareBytes, Int64KeyWidth, 4, 5)
	require.NoError(t, err)
	for v := int64(0); v < 50; v++ {
		requireFound(t, tr2, v)
	}
}

func TestTree_ConcurrentDisjointInserts(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 64)

	const workers = 4
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for i := int64(0); i < perWorker; i++ {
				v := base*perWorker + i
				ok, err := tr.Insert(Int64Key(v), RID{PageID: storage.PageID(v), Slot: uint16(v)}, nil)
				require.NoError(t, err)
				require.True(t, ok)
			}
		}(int64(w))
	}
	wg.Wait()

	validate(t, tr)
	for v := int64(0); v < workers*perWorker; v++ {
		requireFound(t, tr, v)
	}

	it, err := tr.Begin()
	require.NoError(t, err)
	count := 0
	for !it.IsEnd() {
		require.Equal(t, int64(count), DecodeInt64Key(it.Key()))
		count++
		require.NoError(t, it.Next())
	}
	require.Equal(t, workers*perWorker, count)
}

func TestTree_ConcurrentReadersDuringLookups(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 64)

	const n = 300
	for v := int64(0); v < n; v++ {
		insertInt(t, tr, v)
	}

	var wg sync.WaitGroup
	for i8 := 0; i8 < 8; i8++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := int64(0); v < n; v++ {
				requireFound(t, tr, v)
			}
		}()
	}
	wg.Wait()
}

func TestTree_DrawTree(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	out, err := tr.DrawTree()
	require.NoError(t, err)
	require.Equal(t, "<empty>\n", out)

	for v := int64(1); v <= 5; v++ {
		insertInt(t, tr, v)
	}
	out, err = tr.DrawTree()
	require.NoError(t, err)
	require.Contains(t, out, "internal")
	require.Contains(t, out, "leaf")
}
