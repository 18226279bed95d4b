// Package bufferpool keeps a fixed set of disk pages memory-resident.
// Frames are handed out pinned; an LRU-K replacer chooses victims among the
// unpinned ones. All frame, page-table, and free-list transitions happen
// under one pool-wide mutex.
package bufferpool

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/kitedb/kitedb/internal/storage"
	"github.com/kitedb/kitedb/internal/wal"
)

var (
	DefaultPoolSize  = 128
	DefaultReplacerK = 2

	ErrNoFreeFrame     = errors.New("bufferpool: no free frame available (all pinned)")
	ErrPagePinned      = errors.New("bufferpool: page is pinned")
	ErrPageNotResident = errors.New("bufferpool: page is not resident")
)

// Frame is one slot of the pool: a page-sized buffer plus residency
// metadata. The latch is per-frame and orthogonal to the pool mutex; it is
// taken by read/write guards, never by pool methods.
type Frame struct {
	data   []byte
	pageID storage.PageID
	pin    int32
	dirty  bool
	latch  sync.RWMutex
}

func (f *Frame) PageID() storage.PageID { return f.pageID }
func (f *Frame) PinCount() int32        { return f.pin }
func (f *Frame) IsDirty() bool          { return f.dirty }

// Data exposes the frame's page buffer. The caller must hold a pin, and a
// frame latch if other accessors may race.
func (f *Frame) Data() []byte { return f.data }

func (f *Frame) reset() {
	clear(f.data)
	f.pageID = storage.InvalidPageID
	f.pin = 0
	f.dirty = false
}

type Manager struct {
	mu        sync.Mutex
	frames    []*Frame
	pageTable map[storage.PageID]int
	freeList  []int
	repl      Replacer

	disk storage.DiskManager
	log  *wal.Manager // optional; page images are logged before write-back
}

// NewManager builds a pool of poolSize frames over the given disk manager.
// logManager may be nil.
func NewManager(poolSize int, disk storage.DiskManager, replacerK int, logManager *wal.Manager) *Manager {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if replacerK <= 0 {
		replacerK = DefaultReplacerK
	}

	m := &Manager{
		frames:    make([]*Frame, poolSize),
		pageTable: make(map[storage.PageID]int),
		freeList:  make([]int, 0, poolSize),
		repl:      NewLRUKReplacer(poolSize, replacerK),
		disk:      disk,
		log:       logManager,
	}
	for i := 0; i < poolSize; i++ {
		m.frames[i] = &Frame{data: make([]byte, storage.PageSize), pageID: storage.InvalidPageID}
		m.freeList = append(m.freeList, i)
	}
	return m
}

func (m *Manager) PoolSize() int { return len(m.frames) }

// acquireFrameLocked takes a frame from the free list, or evicts one,
// writing back a dirty victim first. The evicted page id stays allocated on
// disk; DeallocatePage is only called from DeletePage.
func (m *Manager) acquireFrameLocked() (int, error) {
	if n := len(m.freeList); n > 0 {
		idx := m.freeList[0]
		m.freeList = m.freeList[1:]
		return idx, nil
	}

	idx, ok := m.repl.Evict()
	if !ok {
		return -1, ErrNoFreeFrame
	}
	f := m.frames[idx]
	if f.dirty {
		if err := m.writeBackLocked(f.pageID, f.data); err != nil {
			// Failed write-back: put the victim back in play.
			m.repl.RecordAccess(idx)
			m.repl.SetEvictable(idx, true)
			return -1, err
		}
	}
	slog.Debug("bufferpool.evict", "frame", idx, "pageID", f.pageID, "dirty", f.dirty)

	delete(m.pageTable, f.pageID)
	f.reset()
	return idx, nil
}

func (m *Manager) writeBackLocked(id storage.PageID, data []byte) error {
	if m.log != nil {
		if _, err := m.log.AppendPageImage(uint32(id), data); err != nil {
			return err
		}
	}
	return m.disk.WritePage(id, data)
}

// NewPage allocates a page id from the disk manager, installs it into a
// frame with pin=1, and returns the frame. Fails with ErrNoFreeFrame when
// every frame is pinned.
func (m *Manager) NewPage() (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	id := m.disk.AllocatePage()
	f := m.frames[idx]
	f.pageID = id
	f.pin = 1
	f.dirty = false
	m.pageTable[id] = idx

	m.repl.RecordAccess(idx)
	m.repl.SetEvictable(idx, false)
	return f, nil
}

// FetchPage pins the page, loading it from disk on a miss. Fails with
// ErrNoFreeFrame when the page is absent and every frame is pinned.
func (m *Manager) FetchPage(id storage.PageID) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.pageTable[id]; ok {
		f := m.frames[idx]
		f.pin++
		m.repl.RecordAccess(idx)
		m.repl.SetEvictable(idx, false)
		return f, nil
	}

	idx, err := m.acquireFrameLocked()
	if err != nil {
		return nil, err
	}
	f := m.frames[idx]
	if err := m.disk.ReadPage(id, f.data); err != nil {
		m.freeList = append(m.freeList, idx)
		return nil, err
	}

	f.pageID = id
	f.pin = 1
	f.dirty = false
	m.pageTable[id] = idx

	m.repl.RecordAccess(idx)
	m.repl.SetEvictable(idx, false)
	return f, nil
}

// UnpinPage drops one pin. The dirty flag only ever accumulates here; it is
// cleared by flushing. Returns false when the page is not resident or
// already unpinned.
func (m *Manager) UnpinPage(id storage.PageID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.pageTable[id]
	if !ok {
		return false
	}
	f := m.frames[idx]
	if f.pin <= 0 {
		return false
	}

	f.pin--
	f.dirty = f.dirty || isDirty
	if f.pin == 0 {
		m.repl.SetEvictable(idx, true)
	}
	return true
}

// FlushPage writes the resident page to disk regardless of its dirty state
// and clears the dirty flag.
func (m *Manager) FlushPage(id storage.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushPageLocked(id)
}

func (m *Manager) flushPageLocked(id storage.PageID) error {
	idx, ok := m.pageTable[id]
	if !ok {
		return ErrPageNotResident
	}
	f := m.frames[idx]
	if err := m.writeBackLocked(id, f.data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// FlushAllPages flushes every resident page.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.pageTable {
		if err := m.flushPageLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage evicts and deallocates a page. A non-resident page deletes
// trivially; a pinned page fails with ErrPagePinned.
func (m *Manager) DeletePage(id storage.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.pageTable[id]
	if !ok {
		return nil
	}
	f := m.frames[idx]
	if f.pin > 0 {
		return ErrPagePinned
	}

	m.repl.Remove(idx)
	m.freeList = append(m.freeList, idx)
	f.reset()
	delete(m.pageTable, id)
	m.disk.DeallocatePage(id)
	return nil
}
