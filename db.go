// Package kitedb is an embedded ordered key-value store: B+Tree indexes over
// a shared buffer pool with LRU-K eviction, one data file per database.
package kitedb

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/kitedb/kitedb/internal/btree"
	"github.com/kitedb/kitedb/internal/bufferpool"
	"github.com/kitedb/kitedb/internal/storage"
	"github.com/kitedb/kitedb/internal/wal"
)

var (
	ErrIndexNotFound = errors.New("kitedb: index not found")
	ErrIndexExists   = errors.New("kitedb: index already exists")
	ErrIndexBadName  = errors.New("kitedb: invalid index name")
	ErrDBClosed      = errors.New("kitedb: database closed")
)

const (
	dataFileName    = "kite.db"
	catalogFileName = "catalog.json"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

func validateIdent(name string) error {
	if !identRe.MatchString(name) {
		return ErrIndexBadName
	}
	return nil
}

// IndexMeta is the catalog entry persisted per index in catalog.json.
type IndexMeta struct {
	Name            string    `json:"name"`
	HeaderPageID    uint32    `json:"header_page_id"`
	KeyWidth        int       `json:"key_width"`
	LeafMaxSize     int       `json:"leaf_max_size"`
	InternalMaxSize int       `json:"internal_max_size"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type catalog struct {
	Indexes []IndexMeta `json:"indexes"`
}

// DB owns the data file, the shared buffer pool, and the index catalog.
type DB struct {
	mu     sync.Mutex
	cfg    *Config
	disk   *storage.FileDiskManager
	wal    *wal.Manager
	pool   *bufferpool.Manager
	cat    catalog
	closed bool
}

// Open creates or attaches to the database under cfg's workdir.
func Open(cfg *Config) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("kitedb: nil config")
	}
	if err := os.MkdirAll(cfg.Storage.Workdir, 0o755); err != nil {
		return nil, fmt.Errorf("kitedb: create workdir: %w", err)
	}

	disk, err := storage.NewFileDiskManager(filepath.Join(cfg.Storage.Workdir, dataFileName))
	if err != nil {
		return nil, err
	}

	var logMgr *wal.Manager
	if cfg.Wal.Enabled {
		logMgr, err = wal.Open(cfg.Storage.Workdir)
		if err != nil {
			_ = disk.Close()
			return nil, err
		}
	}

	db := &DB{
		cfg:  cfg,
		disk: disk,
		wal:  logMgr,
		pool: bufferpool.NewManager(cfg.Storage.PoolSize, disk, cfg.Storage.ReplacerK, logMgr),
	}
	if err := db.readCatalog(); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("kitedb opened", "workdir", cfg.Storage.Workdir,
		"pool_size", cfg.Storage.PoolSize, "indexes", len(db.cat.Indexes))
	return db, nil
}

// Pool exposes the shared buffer pool.
func (db *DB) Pool() *bufferpool.Manager { return db.pool }

func (db *DB) catalogPath() string {
	return filepath.Join(db.cfg.Storage.Workdir, catalogFileName)
}

func (db *DB) readCatalog() error {
	data, err := os.ReadFile(db.catalogPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("kitedb: read catalog: %w", err)
	}
	if err := json.Unmarshal(data, &db.cat); err != nil {
		return fmt.Errorf("kitedb: parse catalog: %w", err)
	}
	return nil
}

// writeCatalog persists the catalog through a temp file and rename, so a
// crash mid-write never leaves a truncated catalog behind.
func (db *DB) writeCatalog() error {
	data, err := json.MarshalIndent(&db.cat, "", "  ")
	if err != nil {
		return err
	}
	tmp := db.catalogPath() + ".tmp"
	if err := os.WriteFile(tmp, data, storage.FileMode0644); err != nil {
		return fmt.Errorf("kitedb: write catalog: %w", err)
	}
	if err := os.Rename(tmp, db.catalogPath()); err != nil {
		return fmt.Errorf("kitedb: write catalog: %w", err)
	}
	return nil
}

func (db *DB) findIndexMeta(name string) (int, *IndexMeta) {
	for i := range db.cat.Indexes {
		if db.cat.Indexes[i].Name == name {
			return i, &db.cat.Indexes[i]
		}
	}
	return -1, nil
}

// ListIndexes returns the registered index metadata.
func (db *DB) ListIndexes() []IndexMeta {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]IndexMeta, len(db.cat.Indexes))
	copy(out, db.cat.Indexes)
	return out
}

// CreateIndex allocates a header page, registers the index in the catalog,
// and returns a fresh tree handle. Entries are ordered by raw byte
// comparison; fixed-width encodings like btree.Int64Key preserve numeric
// order under it.
func (db *DB) CreateIndex(name string, keyWidth int) (*btree.Tree, error) {
	if err := validateIdent(name); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDBClosed
	}
	if _, im := db.findIndexMeta(name); im != nil {
		return nil, ErrIndexExists
	}

	leafMax := db.cfg.Index.LeafMaxSize
	if leafMax == 0 {
		leafMax = btree.MaxLeafSize(keyWidth)
	}
	internalMax := db.cfg.Index.InternalMaxSize
	if internalMax == 0 {
		internalMax = btree.MaxInternalSize(keyWidth)
	}

	hdr, err := db.pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("kitedb: allocate header page: %w", err)
	}
	hdrID := hdr.PageID()
	db.pool.UnpinPage(hdrID, true)

	tree, err := btree.New(name, hdrID, db.pool, btree.CompareBytes,
		keyWidth, leafMax, internalMax)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	db.cat.Indexes = append(db.cat.Indexes, IndexMeta{
		Name:            name,
		HeaderPageID:    uint32(hdrID),
		KeyWidth:        keyWidth,
		LeafMaxSize:     leafMax,
		InternalMaxSize: internalMax,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err := db.writeCatalog(); err != nil {
		return nil, err
	}

	slog.Debug("kitedb index created", "name", name,
		"header_page", hdrID, "key_width", keyWidth)
	return tree, nil
}

// OpenIndex returns a handle onto a registered index.
func (db *DB) OpenIndex(name string) (*btree.Tree, error) {
	if err := validateIdent(name); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDBClosed
	}
	_, im := db.findIndexMeta(name)
	if im == nil {
		return nil, ErrIndexNotFound
	}

	return btree.Open(im.Name, storage.PageID(im.HeaderPageID), db.pool,
		btree.CompareBytes, im.KeyWidth, im.LeafMaxSize, im.InternalMaxSize)
}

// Flush writes every dirty page and syncs the data file and log.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDBClosed
	}
	if err := db.pool.FlushAllPages(); err != nil {
		return err
	}
	if db.wal != nil {
		if err := db.wal.Sync(); err != nil {
			return err
		}
	}
	return db.disk.Sync()
}

// Close flushes and releases the data file and log. It is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	if err := db.pool.FlushAllPages(); err != nil {
		firstErr = err
	}
	if db.wal != nil {
		if err := db.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.disk.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	slog.Debug("kitedb closed", "workdir", db.cfg.Storage.Workdir)
	return firstErr
}
