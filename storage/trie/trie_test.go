package trie

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/storage"
)

func fill(t *testing.T, db storage.Database, entries map[string]string) {
	t.Helper()
	for k, v := range entries {
		require.NoError(t, db.Put([]byte(k), []byte(v)))
	}
}

func TestRootOfEmptyRange(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Put([]byte("other/a"), []byte("x")))

	got, err := Root(db, []byte("acct/"))
	require.NoError(t, err)
	require.Equal(t, EmptyRoot, got.Root)
	require.Zero(t, got.Entries)
}

func TestRootIsBackendIndependent(t *testing.T) {
	entries := map[string]string{
		"acct/alice": "100",
		"acct/bob":   "250",
		"acct/carol": "7",
		"meta/skip":  "ignored",
	}
	mem := storage.NewMemDB()
	fill(t, mem, entries)

	level, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "level"))
	require.NoError(t, err)
	defer level.Close()
	fill(t, level, entries)

	bolt, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "state.bolt"))
	require.NoError(t, err)
	defer bolt.Close()
	fill(t, bolt, entries)

	want, err := Root(mem, []byte("acct/"))
	require.NoError(t, err)
	require.Equal(t, 3, want.Entries)
	require.NotEqual(t, EmptyRoot, want.Root)

	for _, db := range []storage.Database{level, bolt} {
		got, err := Root(db, []byte("acct/"))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRootTracksValueChanges(t *testing.T) {
	db := storage.NewMemDB()
	fill(t, db, map[string]string{"acct/a": "1", "acct/b": "2"})
	before, err := Root(db, []byte("acct/"))
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("acct/b"), []byte("3")))
	after, err := Root(db, []byte("acct/"))
	require.NoError(t, err)
	require.NotEqual(t, before.Root, after.Root)

	require.NoError(t, db.Put([]byte("acct/b"), []byte("2")))
	restored, err := Root(db, []byte("acct/"))
	require.NoError(t, err)
	require.Equal(t, before, restored)
}
