// Package lruk implements LRU-K replacement over a fixed set of slot ids
// [0..capacity). It tracks per-slot access history and evictable state; the
// caller layers its own locking on top (see the bufferpool adapter).
package lruk

import (
	"container/list"
	"fmt"
)

// node is the bookkeeping entry for one tracked slot.
//
// history holds the first k access timestamps. Once a slot has reached k
// recorded accesses its k-distance is measured against history[0]; later
// accesses advance the global clock but are not retained.
type node struct {
	id        int
	history   []uint64
	evictable bool
	kDistance uint64
}

// Policy holds two queues:
//
//   - the default list keeps slots with fewer than k accesses (k-distance
//     treated as infinite), newest first access at the front;
//   - the k list keeps slots with >= k accesses, ordered with the largest
//     k-distance at the front.
//
// Eviction scans the default list back to front, then the k list back to
// front, so the oldest cold slot wins, and among hot slots the smallest
// k-distance wins with first-inserted-first-evicted ties.
type Policy struct {
	capacity int
	k        int

	current uint64
	size    int // evictable slots across both lists

	defaultList *list.List
	kList       *list.List
	defaultMap  map[int]*list.Element
	kMap        map[int]*list.Element
}

func New(capacity, k int) *Policy {
	if capacity <= 0 {
		capacity = 1
	}
	if k <= 0 {
		k = 1
	}
	return &Policy{
		capacity:    capacity,
		k:           k,
		defaultList: list.New(),
		kList:       list.New(),
		defaultMap:  make(map[int]*list.Element),
		kMap:        make(map[int]*list.Element),
	}
}

func (p *Policy) Capacity() int { return p.capacity }

// RecordAccess notes one access to id at the next clock tick.
// Ids outside [0..capacity) are ignored.
func (p *Policy) RecordAccess(id int) {
	if id < 0 || id >= p.capacity {
		return
	}
	ts := p.current
	p.current++

	if el, ok := p.defaultMap[id]; ok {
		n := el.Value.(*node)
		n.history = append(n.history, ts)
		if len(n.history) >= p.k {
			n.kDistance = ts - n.history[0]
			p.defaultList.Remove(el)
			delete(p.defaultMap, id)
			p.kMap[id] = p.insertKNode(n)
		}
		return
	}

	if el, ok := p.kMap[id]; ok {
		n := el.Value.(*node)
		n.kDistance = ts - n.history[0]
		p.kList.Remove(el)
		p.kMap[id] = p.insertKNode(n)
		return
	}

	n := &node{id: id, history: []uint64{ts}}
	if len(n.history) >= p.k {
		n.kDistance = 0
		p.kMap[id] = p.insertKNode(n)
		return
	}
	p.defaultMap[id] = p.defaultList.PushFront(n)
}

// insertKNode places n into the k list keeping the largest k-distance at the
// front. Equal distances insert in front of their peers, so the earlier
// insertion stays closer to the back and is evicted first.
func (p *Policy) insertKNode(n *node) *list.Element {
	for el := p.kList.Front(); el != nil; el = el.Next() {
		if n.kDistance >= el.Value.(*node).kDistance {
			return p.kList.InsertBefore(n, el)
		}
	}
	return p.kList.PushBack(n)
}

// SetEvictable flips the evictable flag of a tracked slot.
// An unknown id is a caller bug.
func (p *Policy) SetEvictable(id int, evictable bool) {
	n := p.lookup(id)
	if n == nil {
		panic(fmt.Sprintf("lruk: SetEvictable on untracked slot %d", id))
	}
	if n.evictable == evictable {
		return
	}
	n.evictable = evictable
	if evictable {
		p.size++
	} else {
		p.size--
	}
}

// Evict removes and returns the victim slot, preferring cold slots
// (fewer than k accesses, oldest first) over hot ones (smallest k-distance).
func (p *Policy) Evict() (int, bool) {
	if p.size == 0 {
		return -1, false
	}
	if id, ok := p.evictFrom(p.defaultList, p.defaultMap); ok {
		return id, true
	}
	return p.evictFrom(p.kList, p.kMap)
}

func (p *Policy) evictFrom(lst *list.List, m map[int]*list.Element) (int, bool) {
	for el := lst.Back(); el != nil; el = el.Prev() {
		n := el.Value.(*node)
		if !n.evictable {
			continue
		}
		lst.Remove(el)
		delete(m, n.id)
		p.size--
		return n.id, true
	}
	return -1, false
}

// Remove drops a slot from tracking regardless of its queue position.
// Untracked ids are ignored; removing a non-evictable slot is a caller bug.
func (p *Policy) Remove(id int) {
	el, ok := p.defaultMap[id]
	lst, m := p.defaultList, p.defaultMap
	if !ok {
		el, ok = p.kMap[id]
		lst, m = p.kList, p.kMap
		if !ok {
			return
		}
	}
	n := el.Value.(*node)
	if !n.evictable {
		panic(fmt.Sprintf("lruk: Remove on non-evictable slot %d", id))
	}
	lst.Remove(el)
	delete(m, id)
	p.size--
}

// Size reports the number of evictable slots.
func (p *Policy) Size() int { return p.size }

func (p *Policy) lookup(id int) *node {
	if el, ok := p.defaultMap[id]; ok {
		return el.Value.(*node)
	}
	if el, ok := p.kMap[id]; ok {
		return el.Value.(*node)
	}
	return nil
}
