package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitedb/kitedb/internal/storage"
)

func TestIterator_WalksAcrossLeaves(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	for v := int64(1); v <= 10; v++ {
		insertInt(t, tr, v)
	}

	it, err := tr.Begin()
	require.NoError(t, err)
	for v := int64(1); v <= 10; v++ {
		require.False(t, it.IsEnd())
		key, rid := it.Entry()
		require.Equal(t, v, DecodeInt64Key(key))
		require.Equal(t, RID{PageID: storage.PageID(v), Slot: uint16(v)}, rid)
		require.NoError(t, it.Next())
	}
	require.True(t, it.IsEnd())
	require.True(t, it.Equal(tr.End()))
}

func TestIterator_NextPastEndStaysAtEnd(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)
	insertInt(t, tr, 1)

	it, err := tr.Begin()
	require.NoError(t, err)
	require.NoError(t, it.Next())
	require.True(t, it.IsEnd())
	require.NoError(t, it.Next())
	require.True(t, it.IsEnd())
	require.Nil(t, it.Key())
}

func TestIterator_BeginAt(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	for v := int64(1); v <= 10; v++ {
		insertInt(t, tr, v)
	}

	it, err := tr.BeginAt(Int64Key(6))
	require.NoError(t, err)
	for v := int64(6); v <= 10; v++ {
		require.False(t, it.IsEnd())
		require.Equal(t, v, DecodeInt64Key(it.Key()))
		require.NoError(t, it.Next())
	}
	require.True(t, it.IsEnd())

	// Absent key positions at End.
	it, err = tr.BeginAt(Int64Key(99))
	require.NoError(t, err)
	require.True(t, it.IsEnd())
}

func TestIterator_EmptyTree(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)

	_, err := tr.Begin()
	require.ErrorIs(t, err, ErrEmptyTree)
	_, err = tr.BeginAt(Int64Key(1))
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestIterator_KeyIsACopy(t *testing.T) {
	tr, _ := newTestTree(t, 4, 5, 16)
	insertInt(t, tr, 5)

	it, err := tr.Begin()
	require.NoError(t, err)
	key := it.Key()
	key[0] ^= 0xFF

	// Mutating the returned slice does not corrupt the tree.
	requireFound(t, tr, 5)
}
