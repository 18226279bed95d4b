package btree

import (
	"bytes"

	"github.com/kitedb/kitedb/internal/storage"
	"github.com/kitedb/kitedb/pkg/bx"
)

// Comparator is a three-way comparison over two fixed-width keys.
type Comparator func(a, b []byte) int

// KeyWidths are the supported fixed key widths in bytes.
var KeyWidths = []int{4, 8, 16, 32, 64}

func ValidKeyWidth(w int) bool {
	for _, kw := range KeyWidths {
		if kw == w {
			return true
		}
	}
	return false
}

// CompareBytes orders keys by raw byte order. It is the right comparator
// for every big-endian encoding produced by this package.
func CompareBytes(a, b []byte) int { return bytes.Compare(a, b) }

const Int64KeyWidth = 8

// Int64Key encodes v so that byte order equals signed integer order
// (big-endian with the sign bit flipped).
func Int64Key(v int64) []byte {
	k := make([]byte, Int64KeyWidth)
	bx.PutU64BE(k, uint64(v)^(1<<63))
	return k
}

func DecodeInt64Key(k []byte) int64 {
	return int64(bx.U64BE(k) ^ (1 << 63))
}

// RID identifies a row slot in a data page; it is the value type stored in
// leaf entries.
type RID struct {
	PageID storage.PageID
	Slot   uint16
}

const ridSize = 6

// Txn is the caller's transaction handle. The tree threads it through for
// future use and never dereferences it.
type Txn struct {
	ID uint64
}
