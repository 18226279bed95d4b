// Package wal is the log manager handed to the buffer pool. It appends
// page-image records before dirty pages are written back; replay is out of
// scope, so the manager only appends and syncs.
package wal

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kitedb/kitedb/pkg/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrShortRead = errors.New("wal: short record")
)

const (
	magicU32   uint32 = 0x4B4C4F47 // "KLOG"
	versionU16 uint16 = 1

	recPageImage uint8 = 1

	// header: magic u32 | version u16 | kind u8 | pad u8 | lsn u64 |
	//         pageID u32 | payload len u32
	headerSize  = 24
	trailerSize = 4 // crc32 over header+payload
)

type Manager struct {
	mu   sync.Mutex
	f    *os.File
	path string
	lsn  uint64
}

func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	m := &Manager{f: f, path: path}
	if err := m.initLastLSN(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// initLastLSN walks existing records so appends continue the LSN sequence
// after reopen. A torn tail record is tolerated and ignored.
func (m *Manager) initLastLSN() error {
	var off int64
	hdr := make([]byte, headerSize)
	for {
		n, err := m.f.ReadAt(hdr, off)
		if err == io.EOF && n == 0 {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				return nil // torn header at tail
			}
			return err
		}
		if bx.U32(hdr[0:4]) != magicU32 {
			return ErrBadMagic
		}
		lsn := bx.U64(hdr[8:16])
		payloadLen := bx.U32(hdr[20:24])

		recLen := int64(headerSize) + int64(payloadLen) + trailerSize
		info, err := m.f.Stat()
		if err != nil {
			return err
		}
		if off+recLen > info.Size() {
			return nil // torn payload at tail
		}
		m.lsn = lsn
		off += recLen
	}
}

// AppendPageImage logs the full pre-write image of a page and returns the
// record's LSN.
func (m *Manager) AppendPageImage(pageID uint32, page []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lsn++
	rec := make([]byte, headerSize+len(page)+trailerSize)
	bx.PutU32(rec[0:4], magicU32)
	bx.PutU16(rec[4:6], versionU16)
	rec[6] = recPageImage
	bx.PutU64(rec[8:16], m.lsn)
	bx.PutU32(rec[16:20], pageID)
	bx.PutU32(rec[20:24], uint32(len(page)))
	copy(rec[headerSize:], page)

	crc := crc32.ChecksumIEEE(rec[:headerSize+len(page)])
	bx.PutU32(rec[headerSize+len(page):], crc)

	if _, err := m.f.Write(rec); err != nil {
		m.lsn--
		return 0, fmt.Errorf("wal append: %w", err)
	}
	return m.lsn, nil
}

func (m *Manager) LastLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lsn
}

func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.f.Sync()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Sync()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	m.f = nil
	return err
}
