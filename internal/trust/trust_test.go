package trust

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/storage"
)

func boolPtr(b bool) *bool {
	return &b
}

type failingStore struct {
	storage.Store
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestResolver_Trusted(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(context.Background(), hclog.NewNullLogger(), storage.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, r.Decide(context.Background(), "denied", Deny))
	require.NoError(t, r.Decide(context.Background(), "allowed", Allow))

	tests := []struct {
		name       string
		collection config.Collection
		want       bool
	}{
		{name: "workspace default", collection: config.Collection{ID: "w", Scope: config.ScopeWorkspace}, want: true},
		{name: "user default", collection: config.Collection{ID: "u", Scope: config.ScopeUser}, want: true},
		{name: "remote default", collection: config.Collection{ID: "r", Scope: config.ScopeRemote}, want: false},
		{name: "declared untrusted", collection: config.Collection{ID: "x", Trusted: boolPtr(false)}, want: false},
		{
			name:       "declared trusted remote",
			collection: config.Collection{ID: "y", Scope: config.ScopeRemote, Trusted: boolPtr(true)},
			want:       true,
		},
		{
			name:       "decision overrides declaration",
			collection: config.Collection{ID: "denied", Trusted: boolPtr(true)},
			want:       false,
		},
		{
			name:       "allow overrides remote",
			collection: config.Collection{ID: "allowed", Scope: config.ScopeRemote},
			want:       true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, r.Trusted(context.Background(), tc.collection, false))
		})
	}
}

func TestResolver_PersistsDecisions(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	r, err := NewResolver(context.Background(), hclog.NewNullLogger(), store)
	require.NoError(t, err)

	require.NoError(t, r.Decide(context.Background(), "team", Deny))
	require.ErrorContains(t, r.Decide(context.Background(), "team", Decision("maybe")), "unknown trust decision")
	require.ErrorContains(t, r.Decide(context.Background(), " ", Allow), "collection id cannot be empty")

	reloaded, err := NewResolver(context.Background(), hclog.NewNullLogger(), store)
	require.NoError(t, err)
	require.Equal(t, map[string]Decision{"team": Deny}, reloaded.Decisions())

	require.NoError(t, reloaded.Forget(context.Background(), "team"))
	require.NoError(t, reloaded.Forget(context.Background(), "unknown"))
	require.Empty(t, reloaded.Decisions())
}

func TestResolver_CorruptDecisionsAreDiscarded(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), storeKey, []byte("{not json")))

	r, err := NewResolver(context.Background(), hclog.NewNullLogger(), store)
	require.NoError(t, err)
	require.Empty(t, r.Decisions())
}

func TestResolver_FailedSaveRollsBack(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(context.Background(), hclog.NewNullLogger(), failingStore{storage.NewMemoryStore()})
	require.NoError(t, err)

	require.ErrorContains(t, r.Decide(context.Background(), "team", Allow), "disk full")
	require.Empty(t, r.Decisions())
}
