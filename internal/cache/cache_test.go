package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/storage"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

type failingStore struct {
	storage.Store
}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func newCache(t *testing.T, store storage.Store, opts ...Option) *Cache {
	t.Helper()

	c, err := NewCache(context.Background(), hclog.NewNullLogger(), store, ScopeUser, opts...)
	require.NoError(t, err)
	return c
}

func entry(nonce string, tools ...string) Entry {
	e := Entry{Nonce: nonce, Capabilities: transport.CapabilityTools}
	for _, name := range tools {
		e.Tools = append(e.Tools, transport.Tool{Name: name})
	}
	return e
}

func TestNewCache_Validation(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	logger := hclog.NewNullLogger()

	_, err := NewCache(context.Background(), nil, store, ScopeUser)
	require.ErrorContains(t, err, "logger cannot be nil")

	_, err = NewCache(context.Background(), logger, nil, ScopeUser)
	require.ErrorContains(t, err, "store cannot be nil")

	_, err = NewCache(context.Background(), logger, store, "global")
	require.ErrorContains(t, err, "unknown cache scope")

	_, err = NewCache(context.Background(), logger, store, ScopeUser, WithSize(0))
	require.ErrorContains(t, err, "cache size must be positive")
}

func TestCache_StoreAndGet(t *testing.T) {
	t.Parallel()

	c := newCache(t, storage.NewMemoryStore())

	_, ok := c.Get("a")
	require.False(t, ok)

	c.Store(nil, "a", entry("n1", "echo"))
	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "n1", got.Nonce)
	require.Equal(t, "echo", got.Tools[0].Name)
	require.True(t, c.Dirty())
}

func TestCache_ObserveFiresOnStoreAndReset(t *testing.T) {
	t.Parallel()

	c := newCache(t, storage.NewMemoryStore())
	cell := c.Observe("a")
	require.Nil(t, cell.Get())

	var seen []*Entry
	dispose := cell.Subscribe(func(e *Entry) { seen = append(seen, e) })
	defer dispose()

	reactive.Transaction(func(tx *reactive.Tx) {
		c.Store(tx, "a", entry("n1"))
		c.Store(tx, "a", entry("n2"))
	})
	require.Len(t, seen, 1)
	require.Equal(t, "n2", seen[0].Nonce)

	c.Reset(nil)
	require.Len(t, seen, 2)
	require.Nil(t, seen[1])
	require.Zero(t, c.Len())
}

func TestCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := newCache(t, storage.NewMemoryStore(), WithSize(2))
	cellA := c.Observe("a")

	c.Store(nil, "a", entry("1"))
	c.Store(nil, "b", entry("2"))
	_, _ = c.Get("a") // a is now most recently used
	c.Store(nil, "c", entry("3"))

	require.Equal(t, []string{"a", "c"}, c.IDs())
	_, ok := c.Get("b")
	require.False(t, ok)
	require.NotNil(t, cellA.Get())

	c.Store(nil, "d", entry("4"))
	c.Store(nil, "e", entry("5"))
	require.Nil(t, cellA.Get(), "evicted entries should clear their observable")
}

func TestCache_SaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	c := newCache(t, store)

	c.Store(nil, "a", entry("n1", "one", "two"))
	c.Store(nil, "b", entry("n2"))
	c.StoreCollection("ext.collection", json.RawMessage(`{"servers":[]}`))
	require.NoError(t, c.Save(context.Background()))
	require.False(t, c.Dirty())

	loaded := newCache(t, store)
	require.Equal(t, []string{"a", "b"}, loaded.IDs(), "recency order should survive a reload")

	got, ok := loaded.Get("a")
	require.True(t, ok)
	require.Equal(t, entry("n1", "one", "two"), got)

	raw, ok := loaded.Collection("ext.collection")
	require.True(t, ok)
	require.JSONEq(t, `{"servers":[]}`, string(raw))
	require.False(t, loaded.Dirty())
}

func TestCache_SaveSkipsWhenClean(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	c := newCache(t, store)
	require.NoError(t, c.Save(context.Background()))

	_, err := store.Get(context.Background(), "mcp.metadataCache.user")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCache_ToleratesBadPersistedState(t *testing.T) {
	t.Parallel()

	tc := []struct {
		name  string
		store func(t *testing.T) storage.Store
	}{
		{
			name: "corrupt json",
			store: func(t *testing.T) storage.Store {
				s := storage.NewMemoryStore()
				require.NoError(t, s.Set(context.Background(), "mcp.metadataCache.user", []byte("{not json")))
				return s
			},
		},
		{
			name: "unsupported version",
			store: func(t *testing.T) storage.Store {
				s := storage.NewMemoryStore()
				data := fmt.Sprintf(`{"version":%d,"entries":[{"id":"a","entry":{"nonce":"x"}}]}`, blobVersion+1)
				require.NoError(t, s.Set(context.Background(), "mcp.metadataCache.user", []byte(data)))
				return s
			},
		},
		{
			name: "read failure",
			store: func(*testing.T) storage.Store {
				return failingStore{Store: storage.NewMemoryStore()}
			},
		},
	}

	for _, c := range tc {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			cache := newCache(t, c.store(t))
			assert.Zero(t, cache.Len())
			assert.Empty(t, cache.Collections())
		})
	}
}

func TestCache_ScopesAreIndependent(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	user := newCache(t, store)
	ws, err := NewCache(context.Background(), hclog.NewNullLogger(), store, ScopeWorkspace)
	require.NoError(t, err)

	user.Store(nil, "a", entry("u"))
	ws.Store(nil, "a", entry("w"))
	require.NoError(t, user.Save(context.Background()))
	require.NoError(t, ws.Save(context.Background()))

	ws.Reset(nil)
	got, ok := user.Get("a")
	require.True(t, ok)
	require.Equal(t, "u", got.Nonce)
}

func TestCache_DeleteCollection(t *testing.T) {
	t.Parallel()

	c := newCache(t, storage.NewMemoryStore())
	c.StoreCollection("x", json.RawMessage(`[]`))
	require.NoError(t, c.Save(context.Background()))

	c.DeleteCollection("missing")
	require.False(t, c.Dirty())

	c.DeleteCollection("x")
	require.True(t, c.Dirty())
	_, ok := c.Collection("x")
	require.False(t, ok)
}
