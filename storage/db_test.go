package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	mem, err := NewMemLevelDB()
	require.NoError(t, err)
	disk, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		mem.Close()
		disk.Close()
	})
	return map[string]Database{
		"map":      NewMemDB(),
		"leveldb":  mem,
		"leveldb+": disk,
	}
}

func TestDatabaseGetMissingReturnsErrNotFound(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			ok, err := db.Has([]byte("missing"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestDatabaseWriteBatchAppliesPutsAndDeletes(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("a"), []byte("1")))
			err := db.WriteBatch([]Write{
				{Key: []byte("a"), Delete: true},
				{Key: []byte("b"), Value: []byte("2")},
				{Key: []byte("c"), Value: []byte("3")},
			})
			require.NoError(t, err)

			_, err = db.Get([]byte("a"))
			require.ErrorIs(t, err, ErrNotFound)
			got, err := db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)
			got, err = db.Get([]byte("c"))
			require.NoError(t, err)
			require.Equal(t, []byte("3"), got)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.WriteBatch([]Write{{Key: []byte("k"), Value: []byte("v")}}))
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}
