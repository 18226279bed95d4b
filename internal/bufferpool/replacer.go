package bufferpool

import (
	"sync"

	"github.com/kitedb/kitedb/pkg/lruk"
)

// Replacer picks eviction victims among the pool's frames.
type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Evict() (frameID int, ok bool)
	Remove(frameID int)
	Size() int
}

// lrukAdapter wraps the pure policy behind the Replacer interface and its
// own mutex, so the replacer stays safe to call both from pool methods and
// directly by callers that already hold the pool lock.
type lrukAdapter struct {
	mu sync.Mutex
	p  *lruk.Policy
}

func NewLRUKReplacer(capacity, k int) Replacer {
	return &lrukAdapter{p: lruk.New(capacity, k)}
}

func (a *lrukAdapter) RecordAccess(frameID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p.RecordAccess(frameID)
}

func (a *lrukAdapter) SetEvictable(frameID int, evictable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p.SetEvictable(frameID, evictable)
}

func (a *lrukAdapter) Evict() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.p.Evict()
}

func (a *lrukAdapter) Remove(frameID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p.Remove(frameID)
}

func (a *lrukAdapter) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.p.Size()
}
