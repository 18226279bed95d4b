package btree

import (
	"sort"

	"github.com/kitedb/kitedb/internal/storage"
	"github.com/kitedb/kitedb/pkg/bx"
)

// leafPage holds sorted (key, rid) entries plus a right-sibling pointer for
// range scans.
type leafPage struct {
	nodePage
	keySize int
}

func leafView(data []byte, keySize int) leafPage {
	return leafPage{nodePage: nodeView(data), keySize: keySize}
}

func (p leafPage) init(parent storage.PageID, maxSize int) {
	bx.PutU16At(p.data, offPageType, pageTypeLeaf)
	p.setSize(0)
	p.setMaxSize(maxSize)
	p.setParent(parent)
	p.setNextPageID(storage.InvalidPageID)
}

func (p leafPage) nextPageID() storage.PageID {
	return storage.PageID(bx.U32At(p.data, offNextPage))
}

func (p leafPage) setNextPageID(id storage.PageID) {
	bx.PutU32At(p.data, offNextPage, uint32(id))
}

func (p leafPage) entrySize() int { return p.keySize + ridSize }

func (p leafPage) entryOff(i int) int {
	return leafHeaderSize + i*p.entrySize()
}

func (p leafPage) keyAt(i int) []byte {
	off := p.entryOff(i)
	return p.data[off : off+p.keySize]
}

func (p leafPage) ridAt(i int) RID {
	off := p.entryOff(i) + p.keySize
	return RID{
		PageID: storage.PageID(bx.U32At(p.data, off)),
		Slot:   bx.U16At(p.data, off+4),
	}
}

func (p leafPage) setEntryAt(i int, key []byte, rid RID) {
	copy(p.keyAt(i), key)
	off := p.entryOff(i) + p.keySize
	bx.PutU32At(p.data, off, uint32(rid.PageID))
	bx.PutU16At(p.data, off+4, rid.Slot)
}

// findValue looks key up and returns its rid and slot index.
func (p leafPage) findValue(key []byte, cmp Comparator) (RID, int, bool) {
	n := p.size()
	if n == 0 {
		return RID{}, 0, false
	}
	idx := sort.Search(n-1, func(j int) bool {
		return cmp(p.keyAt(j), key) >= 0
	})
	if cmp(p.keyAt(idx), key) != 0 {
		return RID{}, 0, false
	}
	return p.ridAt(idx), idx, true
}

// insert places (key, rid) in sorted position. Duplicate keys are rejected.
func (p leafPage) insert(key []byte, rid RID, cmp Comparator) bool {
	n := p.size()
	idx := sort.Search(n, func(j int) bool {
		return cmp(p.keyAt(j), key) >= 0
	})
	if idx < n && cmp(p.keyAt(idx), key) == 0 {
		return false
	}
	copy(p.data[p.entryOff(idx+1):p.entryOff(n+1)], p.data[p.entryOff(idx):p.entryOff(n)])
	p.setEntryAt(idx, key, rid)
	p.setSize(n + 1)
	return true
}

// delete removes the entry matching both key and rid.
func (p leafPage) delete(key []byte, rid RID, cmp Comparator) bool {
	n := p.size()
	if n == 0 {
		return false
	}
	idx := sort.Search(n-1, func(j int) bool {
		return cmp(p.keyAt(j), key) >= 0
	})
	if cmp(p.keyAt(idx), key) != 0 || p.ridAt(idx) != rid {
		return false
	}
	copy(p.data[p.entryOff(idx):p.entryOff(n-1)], p.data[p.entryOff(idx+1):p.entryOff(n)])
	p.setSize(n - 1)
	return true
}

// merge appends the first n entries of src at the tail.
func (p leafPage) merge(src leafPage, n int) {
	sz := p.size()
	copy(p.data[p.entryOff(sz):p.entryOff(sz+n)], src.data[src.entryOff(0):src.entryOff(n)])
	p.increaseSize(n)
}

// shiftData moves all entries d positions (positive = right) and adjusts
// the size accordingly.
func (p leafPage) shiftData(d int) {
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
func (p leafPage) copyHalfFrom(src leafPage, min, n int) {
	copy(p.data[p.entryOff(0):p.entryOff(n-min)], src.data[src.entryOff(min):src.entryOff(n)])
}
