package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/perms"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	sq, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	mem, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	return map[string]Store{
		"file":          fs,
		"sqlite":        sq,
		"sqlite memory": mem,
		"memory":        NewMemoryStore(),
	}
}

func TestStores(t *testing.T) {
	t.Parallel()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			_, err := s.Get(ctx, "mcp.cache.user")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "mcp.cache.user", []byte(`{"version":1}`)))
			got, err := s.Get(ctx, "mcp.cache.user")
			require.NoError(t, err)
			require.JSONEq(t, `{"version":1}`, string(got))

			require.NoError(t, s.Set(ctx, "mcp.cache.user", []byte(`{"version":2}`)))
			got, err = s.Get(ctx, "mcp.cache.user")
			require.NoError(t, err)
			require.JSONEq(t, `{"version":2}`, string(got))

			require.NoError(t, s.Delete(ctx, "mcp.cache.user"))
			require.NoError(t, s.Delete(ctx, "mcp.cache.user"))
			_, err = s.Get(ctx, "mcp.cache.user")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFileStore_UnsafeKeysAreHashed(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Set(context.Background(), "../escape/attempt", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Name(), 64+len(".json"))

	info, err := entries[0].Info()
	require.NoError(t, err)
	require.Equal(t, perms.SecureFile, info.Mode().Perm())
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", buf))
	buf[0] = 'z'

	got, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}
