package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var _ DiskManager = (*FileDiskManager)(nil)

// FileDiskManager stores pages in a single file at offset id*PageSize.
// Reads past EOF zero-fill, so pages can be lazily initialized by higher
// layers before their first write.
type FileDiskManager struct {
	mu     sync.Mutex
	file   *os.File
	closed bool

	nextPageID PageID
	freeIDs    []PageID
}

func NewFileDiskManager(path string) (*FileDiskManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat database file: %w", err)
	}

	return &FileDiskManager{
		file:       file,
		nextPageID: PageID(info.Size() / PageSize),
	}, nil
}

func (d *FileDiskManager) ReadPage(id PageID, dst []byte) error {
	if len(dst) != PageSize {
		return ErrBadPageSize
	}
	if id == InvalidPageID {
		return ErrPageOutOfRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	n, err := d.file.ReadAt(dst, int64(id)*PageSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read page %d: %w", id, err)
	}
	// Short read past EOF: the rest of the page is zeroes.
	clear(dst[n:])
	return nil
}

func (d *FileDiskManager) WritePage(id PageID, src []byte) error {
	if len(src) != PageSize {
		return ErrBadPageSize
	}
	if id == InvalidPageID {
		return ErrPageOutOfRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	if _, err := d.file.WriteAt(src, int64(id)*PageSize); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	if id >= d.nextPageID {
		d.nextPageID = id + 1
	}
	return nil
}

// AllocatePage prefers recycled ids over growing the file.
func (d *FileDiskManager) AllocatePage() PageID {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.freeIDs); n > 0 {
		id := d.freeIDs[n-1]
		d.freeIDs = d.freeIDs[:n-1]
		return id
	}
	id := d.nextPageID
	d.nextPageID++
	return id
}

func (d *FileDiskManager) DeallocatePage(id PageID) {
	if id == InvalidPageID {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.freeIDs = append(d.freeIDs, id)
	slog.Debug("storage.DeallocatePage", "pageID", id)
}

func (d *FileDiskManager) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.file.Sync()
}

func (d *FileDiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.file.Close()
}
