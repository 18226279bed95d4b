package btree

import (
	"sort"

	"github.com/kitedb/kitedb/internal/storage"
	"github.com/kitedb/kitedb/pkg/bx"
)

// internalPage holds an ordered array of (key, child) entries. The key at
// index 0 is a zeroed placeholder: entry i >= 1 routes keys >= key[i] into
// child[i], everything smaller falls through to child[i-1].
type internalPage struct {
	nodePage
	keySize int
}

func internalView(data []byte, keySize int) internalPage {
	return internalPage{nodePage: nodeView(data), keySize: keySize}
}

func (p internalPage) init(parent storage.PageID, maxSize int) {
	bx.PutU16At(p.data, offPageType, pageTypeInternal)
	p.setSize(0)
	p.setMaxSize(maxSize)
	p.setParent(parent)
}

func (p internalPage) entrySize() int { return p.keySize + 4 }

func (p internalPage) entryOff(i int) int {
	return internalHeaderSize + i*p.entrySize()
}

func (p internalPage) keyAt(i int) []byte {
	off := p.entryOff(i)
	return p.data[off : off+p.keySize]
}

func (p internalPage) setKeyAt(i int, key []byte) {
	copy(p.keyAt(i), key)
}

func (p internalPage) childAt(i int) storage.PageID {
	return storage.PageID(bx.U32At(p.data, p.entryOff(i)+p.keySize))
}

func (p internalPage) setChildAt(i int, id storage.PageID) {
	bx.PutU32At(p.data, p.entryOff(i)+p.keySize, uint32(id))
}

func (p internalPage) setEntryAt(i int, key []byte, child storage.PageID) {
	p.setKeyAt(i, key)
	p.setChildAt(i, child)
}

// childOf routes a key: it returns the child under the largest routing key
// <= key, plus that child's slot index (used by deletion to find siblings).
func (p internalPage) childOf(key []byte, cmp Comparator) (storage.PageID, int) {
	n := p.size()
	// Count the routing entries in [1..n) whose key is <= the target.
	idx := sort.Search(n-1, func(j int) bool {
		return cmp(p.keyAt(j+1), key) > 0
	})
	return p.childAt(idx), idx
}

// insert places (key, child) keeping keys ordered. A key smaller than every
// routing key shifts the whole array right and lands at index 0.
func (p internalPage) insert(key []byte, child storage.PageID, cmp Comparator) bool {
	n := p.size()
	if n > 0 && cmp(key, p.keyAt(0)) < 0 {
		p.shiftData(1)
		p.setEntryAt(0, key, child)
		return true
	}

	idx := 1 + sort.Search(n-1, func(j int) bool {
		return cmp(p.keyAt(j+1), key) >= 0
	})
	copy(p.data[p.entryOff(idx+1):p.entryOff(n+1)], p.data[p.entryOff(idx):p.entryOff(n)])
	p.setEntryAt(idx, key, child)
	p.setSize(n + 1)
	return true
}

// delete removes the entry matching both key and child.
func (p internalPage) delete(key []byte, child storage.PageID, cmp Comparator) bool {
	n := p.size()
	if n == 0 {
		return false
	}
	idx := sort.Search(n-1, func(j int) bool {
		return cmp(p.keyAt(j), key) >= 0
	})
	if cmp(p.keyAt(idx), key) != 0 || p.childAt(idx) != child {
		return false
	}
	copy(p.data[p.entryOff(idx):p.entryOff(n-1)], p.data[p.entryOff(idx+1):p.entryOff(n)])
	p.setSize(n - 1)
	return true
}

// merge appends the first n entries of src at the tail.
func (p internalPage) merge(src internalPage, n int) {
	sz := p.size()
	copy(p.data[p.entryOff(sz):p.entryOff(sz+n)], src.data[src.entryOff(0):src.entryOff(n)])
	p.increaseSize(n)
}

// shiftData moves all entries d positions (positive = right) and adjusts
// the size accordingly.
func (p internalPage) shiftData(d int) {
	n := p.size()
	if d > 0 {
		copy(p.data[p.entryOff(d):p.entryOff(n+d)], p.data[p.entryOff(0):p.entryOff(n)])
	} else if d < 0 {
		copy(p.data[p.entryOff(0):p.entryOff(n+d)], p.data[p.entryOff(-d):p.entryOff(n)])
	}
	p.increaseSize(d)
}

// copyHalfFrom copies src entries [min..n) into this page starting at
// index 0. Sizes are adjusted by the caller.
func (p internalPage) copyHalfFrom(src internalPage, min, n int) {
	copy(p.data[p.entryOff(0):p.entryOff(n-min)], src.data[src.entryOff(min):src.entryOff(n)])
}
