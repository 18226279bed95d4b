// Package btree implements a disk-backed B+Tree index on top of the buffer
// pool. Tree nodes are typed views over raw page buffers: a shared header
// prefix carries the page type tag, entry count, max size, and parent id;
// leaf pages add a right-sibling pointer.
package btree

import (
	"github.com/kitedb/kitedb/internal/storage"
	"github.com/kitedb/kitedb/pkg/bx"
)

const (
	pageTypeInvalid  uint16 = 0
	pageTypeLeaf     uint16 = 1
	pageTypeInternal uint16 = 2
)

// On-page layout, all little-endian:
//
//	0  page type   u16
//	2  size        u16
//	4  max size    u16
//	8  parent      u32
//	12 next page   u32 (leaf only)
const (
	offPageType = 0
	offSize     = 2
	offMaxSize  = 4
	offParent   = 8
	offNextPage = 12

	sharedHeaderSize   = 12
	internalHeaderSize = sharedHeaderSize
	leafHeaderSize     = 16
)

// nodePage is the shared-prefix view common to leaf and internal pages.
type nodePage struct {
	data []byte
}

func nodeView(data []byte) nodePage { return nodePage{data: data} }

func (p nodePage) pageType() uint16 { return bx.U16At(p.data, offPageType) }
func (p nodePage) isLeaf() bool     { return p.pageType() == pageTypeLeaf }

func (p nodePage) size() int      { return int(bx.U16At(p.data, offSize)) }
func (p nodePage) setSize(n int)  { bx.PutU16At(p.data, offSize, uint16(n)) }
func (p nodePage) increaseSize(d int) {
	p.setSize(p.size() + d)
}

func (p nodePage) maxSize() int     { return int(bx.U16At(p.data, offMaxSize)) }
func (p nodePage) setMaxSize(n int) { bx.PutU16At(p.data, offMaxSize, uint16(n)) }

// minSize is the rebalance threshold: ceil((max+1)/2) for internal pages,
// floor(max/2) for leaves.
func (p nodePage) minSize() int {
	if p.pageType() == pageTypeInternal {
		return (p.maxSize() + 1) / 2
	}
	return p.maxSize() / 2
}

func (p nodePage) parent() storage.PageID {
	return storage.PageID(bx.U32At(p.data, offParent))
}

func (p nodePage) setParent(id storage.PageID) {
	bx.PutU32At(p.data, offParent, uint32(id))
}

// headerPage stores the root page id; it lives at the tree's fixed header
// page and is the only tree state outside the node pages.
type headerPage struct {
	data []byte
}

func headerView(data []byte) headerPage { return headerPage{data: data} }

func (h headerPage) root() storage.PageID {
	return storage.PageID(bx.U32At(h.data, 0))
}

func (h headerPage) setRoot(id storage.PageID) {
	bx.PutU32At(h.data, 0, uint32(id))
}
