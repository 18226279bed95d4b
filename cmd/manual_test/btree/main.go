package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kitedb/kitedb"
	"github.com/kitedb/kitedb/internal/btree"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	workdir := filepath.Join("data", "test", "btree_db")
	cfg := kitedb.DefaultConfig(workdir)
	cfg.Index.LeafMaxSize = 8
	cfg.Index.InternalMaxSize = 8

	db, err := kitedb.Open(cfg)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer db.Close()

	idx, err := db.CreateIndex("users_id", btree.Int64KeyWidth)
	if err != nil {
		log.Fatalf("CreateIndex: %v", err)
	}

	for i := int64(1); i <= 40; i++ {
		ok, err := idx.Insert(btree.Int64Key(i), btree.RID{PageID: 1, Slot: uint16(i)}, nil)
		if err != nil {
			log.Fatalf("Insert %d: %v", i, err)
		}
		if !ok {
			log.Fatalf("Insert %d: duplicate", i)
		}
	}

	rid, ok, err := idx.GetValue(btree.Int64Key(7), nil)
	if err != nil {
		log.Fatalf("GetValue: %v", err)
	}
	fmt.Printf("key=7 found=%v rid=%+v\n", ok, rid)

	for i := int64(30); i <= 40; i++ {
		if _, err := idx.Remove(btree.Int64Key(i), nil); err != nil {
			log.Fatalf("Remove %d: %v", i, err)
		}
	}

	fmt.Println("Scan:")
	it, err := idx.Begin()
	if err != nil {
		log.Fatalf("Begin: %v", err)
	}
	for !it.IsEnd() {
		key, rid := it.Entry()
		fmt.Printf("  key=%d rid=%+v\n", btree.DecodeInt64Key(key), rid)
		if err := it.Next(); err != nil {
			log.Fatalf("Next: %v", err)
		}
	}

	out, err := idx.DrawTree()
	if err != nil {
		log.Fatalf("DrawTree: %v", err)
	}
	fmt.Println(out)

	if err := db.Flush(); err != nil {
		log.Fatalf("Flush: %v", err)
	}
}
