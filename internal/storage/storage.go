// Package storage provides the disk-facing page store: fixed-size pages
// addressed by PageID inside a single database file.
package storage

import "errors"

const (
	OneKB = 1024
	OneMB = OneKB * 1024

	// PageSize is the unit of disk I/O and of every in-memory frame.
	PageSize = 8 * OneKB
)

// PageID is the logical id of an on-disk page.
type PageID uint32

// InvalidPageID marks "no page": an unused frame, an empty tree root,
// the end of a leaf chain.
const InvalidPageID PageID = 0xFFFFFFFF

const FileMode0644 = 0o644

var (
	ErrPageOutOfRange = errors.New("storage: page id out of range")
	ErrBadPageSize    = errors.New("storage: buffer must be exactly one page")
	ErrClosed         = errors.New("storage: disk manager is closed")
)

// DiskManager is the raw page store consumed by the buffer pool.
//
// ReadPage fills dst (exactly PageSize bytes) with the page contents,
// zero-filling past EOF so sparse pages read as uninitialized. WritePage
// persists exactly one page. AllocatePage hands out a fresh or recycled
// page id; DeallocatePage returns an id to the allocator.
type DiskManager interface {
	ReadPage(id PageID, dst []byte) error
	WritePage(id PageID, src []byte) error
	AllocatePage() PageID
	DeallocatePage(id PageID)
}
