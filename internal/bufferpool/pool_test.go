package bufferpool

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitedb/kitedb/internal/storage"
)

// newTestManager builds a pool over a real file-backed disk manager in a
// temp directory.
func newTestManager(t *testing.T, poolSize, k int) (*Manager, storage.DiskManager) {
	t.Helper()

	dir, err := os.MkdirTemp("", "kitedb-bp-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	dm, err := storage.NewFileDiskManager(filepath.Join(dir, "kite.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	return NewManager(poolSize, dm, k, nil), dm
}

func (m *Manager) frameOf(t *testing.T, id storage.PageID) *Frame {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.pageTable[id]
	require.True(t, ok, "page %d not resident", id)
	return m.frames[idx]
}

func TestManager_NewPageAssignsSequentialIDs(t *testing.T) {
	m, _ := newTestManager(t, 4, 2)

	for want := storage.PageID(0); want < 3; want++ {
		f, err := m.NewPage()
		require.NoError(t, err)
		require.Equal(t, want, f.PageID())
		require.Equal(t, int32(1), f.PinCount())
		require.False(t, f.IsDirty())
	}
}

func TestManager_FetchPinUnpinRestoresPinCount(t *testing.T) {
	m, _ := newTestManager(t, 4, 2)

	f, err := m.NewPage()
	require.NoError(t, err)
	id := f.PageID()

	f2, err := m.FetchPage(id)
	require.NoError(t, err)
	require.Same(t, f, f2)
	require.Equal(t, int32(2), f.PinCount())

	require.True(t, m.UnpinPage(id, false))
	require.Equal(t, int32(1), f.PinCount())
	require.True(t, m.UnpinPage(id, false))
	require.Equal(t, int32(0), f.PinCount())

	// Already unpinned.
	require.False(t, m.UnpinPage(id, false))
	// Never resident.
	require.False(t, m.UnpinPage(999, false))
}

// Pool of 3 with k=2: create three pages, unpin all, and the next NewPage
// must evict the frame whose first access is oldest — the one holding p0.
func TestManager_PoolReuseEvictsOldest(t *testing.T) {
	m, _ := newTestManager(t, 3, 2)

	ids := make([]storage.PageID, 0, 3)
	for r3 := 0; r3 < 3; r3++ {
		f, err := m.NewPage()
		require.NoError(t, err)
		f.Data()[0] = byte(f.PageID() + 1) // marker, forces a write-back
		ids = append(ids, f.PageID())
	}
	for _, id := range ids {
		require.True(t, m.UnpinPage(id, true))
	}

	f, err := m.NewPage()
	require.NoError(t, err)
	require.Equal(t, storage.PageID(3), f.PageID())

	// p0 was evicted; p1 and p2 are still resident.
	m.mu.Lock()
	_, p0Resident := m.pageTable[ids[0]]
	_, p1Resident := m.pageTable[ids[1]]
	_, p2Resident := m.pageTable[ids[2]]
	m.mu.Unlock()
	require.False(t, p0Resident)
	require.True(t, p1Resident)
	require.True(t, p2Resident)
}

// The dirty victim must reach disk before its frame is reused.
func TestManager_EvictionWritesBackDirtyVictim(t *testing.T) {
	m, dm := newTestManager(t, 1, 2)

	f, err := m.NewPage()
	require.NoError(t, err)
	p0 := f.PageID()
	f.Data()[0] = 42
	require.True(t, m.UnpinPage(p0, true))

	// Evicts p0.
	_, err = m.NewPage()
	require.NoError(t, err)

	buf := make([]byte, storage.PageSize)
	require.NoError(t, dm.ReadPage(p0, buf))
	require.Equal(t, byte(42), buf[0])
}

func TestManager_AllPinnedNewPageFails(t *testing.T) {
	m, _ := newTestManager(t, 2, 2)

	_, err := m.NewPage()
	require.NoError(t, err)
	_, err = m.NewPage()
	require.NoError(t, err)

	_, err = m.NewPage()
	require.ErrorIs(t, err, ErrNoFreeFrame)
	_, err = m.FetchPage(7)
	require.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestManager_FlushPageMatchesMemory(t *testing.T) {
	m, dm := newTestManager(t, 2, 2)

	f, err := m.NewPage()
	require.NoError(t, err)
	id := f.PageID()
	for i := 0; i < 64; i++ {
		f.Data()[i] = byte(i * 3)
	}
	require.True(t, m.UnpinPage(id, true))

	require.NoError(t, m.FlushPage(id))
	require.False(t, m.frameOf(t, id).IsDirty())

	buf := make([]byte, storage.PageSize)
	require.NoError(t, dm.ReadPage(id, buf))
	require.True(t, bytes.Equal(f.Data(), buf))

	require.ErrorIs(t, m.FlushPage(999), ErrPageNotResident)
}

func TestManager_FlushAllPages(t *testing.T) {
	m, dm := newTestManager(t, 4, 2)

	ids := make([]storage.PageID, 0, 3)
	for i := 0; i < 3; i++ {
		f, err := m.NewPage()
		require.NoError(t, err)
		f.Data()[0] = byte(i + 10)
		ids = append(ids, f.PageID())
		require.True(t, m.UnpinPage(f.PageID(), true))
	}
	require.NoError(t, m.FlushAllPages())

	buf := make([]byte, storage.PageSize)
	for i, id := range ids {
		require.NoError(t, dm.ReadPage(id, buf))
		require.Equal(t, byte(i+10), buf[0])
	}
}

func TestManager_DeletePage(t *testing.T) {
	m, _ := newTestManager(t, 2, 2)

	f, err := m.NewPage()
	require.NoError(t, err)
	id := f.PageID()

	// Pinned: refused.
	require.ErrorIs(t, m.DeletePage(id), ErrPagePinned)

	require.True(t, m.UnpinPage(id, false))
	require.NoError(t, m.DeletePage(id))

	// Not resident anymore: trivially deleted.
	require.NoError(t, m.DeletePage(id))

	// The frame went back to the free list.
	m.mu.Lock()
	free := len(m.freeList)
	m.mu.Unlock()
	require.Equal(t, 2, free)
}

func TestManager_FetchMissReadsFromDisk(t *testing.T) {
	m, dm := newTestManager(t, 1, 2)

	src := make([]byte, storage.PageSize)
	src[100] = 77
	require.NoError(t, dm.WritePage(5, src))

	f, err := m.FetchPage(5)
	require.NoError(t, err)
	require.Equal(t, byte(77), f.Data()[100])
	require.Equal(t, int32(1), f.PinCount())
}
