package bufferpool

import "github.com/kitedb/kitedb/internal/storage"

// PageGuard is a scoped owner of one pin. Drop is idempotent: the first
// call unpins with the accumulated dirty intent, later calls do nothing.
// DataMut records dirty intent so the drop-time unpin propagates it.
type PageGuard struct {
	m       *Manager
	frame   *Frame
	pageID  storage.PageID
	dirty   bool
	dropped bool
}

func (g *PageGuard) PageID() storage.PageID { return g.pageID }

func (g *PageGuard) Data() []byte { return g.frame.data }

func (g *PageGuard) DataMut() []byte {
	g.dirty = true
	return g.frame.data
}

func (g *PageGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.m.UnpinPage(g.pageID, g.dirty)
}

// ReadPageGuard owns a pin plus a shared frame latch: readers co-exist,
// writers are excluded.
type ReadPageGuard struct {
	g PageGuard
}

func (g *ReadPageGuard) PageID() storage.PageID { return g.g.pageID }
func (g *ReadPageGuard) Data() []byte           { return g.g.frame.data }

func (g *ReadPageGuard) Drop() {
	if g.g.dropped {
		return
	}
	g.g.frame.latch.RUnlock()
	g.g.Drop()
}

// WritePageGuard owns a pin plus the exclusive frame latch.
type WritePageGuard struct {
	g PageGuard
}

func (g *WritePageGuard) PageID() storage.PageID { return g.g.pageID }
func (g *WritePageGuard) Data() []byte           { return g.g.frame.data }
func (g *WritePageGuard) DataMut() []byte        { return g.g.DataMut() }

func (g *WritePageGuard) Drop() {
	if g.g.dropped {
		return
	}
	g.g.frame.latch.Unlock()
	g.g.Drop()
}

// NewPageGuarded allocates a page and wraps it in a basic guard; the page
// was just created, so no latch is needed yet.
func (m *Manager) NewPageGuarded() (*PageGuard, error) {
	f, err := m.NewPage()
	if err != nil {
		return nil, err
	}
	return &PageGuard{m: m, frame: f, pageID: f.pageID}, nil
}

// FetchPageBasic pins the page without latching it.
func (m *Manager) FetchPageBasic(id storage.PageID) (*PageGuard, error) {
	f, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return &PageGuard{m: m, frame: f, pageID: id}, nil
}

// FetchPageRead pins the page and takes the shared frame latch. The latch
// is acquired after the pool mutex is released, so a blocked reader never
// stalls unrelated pool traffic.
func (m *Manager) FetchPageRead(id storage.PageID) (*ReadPageGuard, error) {
	f, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	f.latch.RLock()
	return &ReadPageGuard{g: PageGuard{m: m, frame: f, pageID: id}}, nil
}

// FetchPageWrite pins the page and takes the exclusive frame latch.
func (m *Manager) FetchPageWrite(id storage.PageID) (*WritePageGuard, error) {
	f, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	f.latch.Lock()
	return &WritePageGuard{g: PageGuard{m: m, frame: f, pageID: id}}, nil
}
