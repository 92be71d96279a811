package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/cache"
	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/connection"
	configcontext "github.com/mozilla-ai/mcphost/internal/context"
	"github.com/mozilla-ai/mcphost/internal/domain"
	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/perms"
	"github.com/mozilla-ai/mcphost/internal/server"
	"github.com/mozilla-ai/mcphost/internal/transport"
	"github.com/mozilla-ai/mcphost/internal/transport/transporttest"
)

// fakeTransports hands out one in-memory transport per definition ID.
type fakeTransports struct {
	mu   sync.Mutex
	byID map[string]*transporttest.Transport
}

func newFakeTransports() *fakeTransports {
	return &fakeTransports{byID: map[string]*transporttest.Transport{}}
}

func (f *fakeTransports) get(id string) *transporttest.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	tr, ok := f.byID[id]
	if !ok {
		tr = &transporttest.Transport{}
		f.byID[id] = tr
	}
	return tr
}

// serve makes the transport for id hand out a handler publishing tools.
func (f *fakeTransports) serve(id string, tools ...string) {
	h := transporttest.NewHandler()
	for _, name := range tools {
		h.Tools = append(h.Tools, transport.Tool{Name: name})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id] = &transporttest.Transport{
		NewChannel: func() *transporttest.Channel {
			return transporttest.NewChannel(transport.ChannelState{Status: transport.StatusRunning}, h)
		},
	}
}

func (f *fakeTransports) factory(_ hclog.Logger, def config.ServerDefinition, _ bool) (transport.Transport, error) {
	return f.get(def.ID), nil
}

type denyCollections []string

func (d denyCollections) Trusted(_ context.Context, c config.Collection, _ bool) bool {
	return !slices.Contains(d, c.ID)
}

func newTestDaemon(t *testing.T, tf *fakeTransports, caches map[cache.Scope]*cache.Cache, trust server.Truster) *Daemon {
	t.Helper()

	deps := validDependencies(t)
	if caches != nil {
		deps.Caches = caches
	}
	if trust != nil {
		deps.Trust = trust
	}

	d, err := NewDaemon(deps, WithTransportFactory(tf.factory), WithMCPServerShutdownTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	return d
}

func testCollections() []config.Collection {
	return []config.Collection{
		{
			ID:    "personal",
			Scope: config.ScopeUser,
			Servers: []config.ServerDefinition{
				{ID: "time", Label: "Time", Type: transport.KindStdio, Command: "time-server", Nonce: "t1", AutoStart: true},
			},
		},
		{
			ID:    "workspace",
			Scope: config.ScopeWorkspace,
			Servers: []config.ServerDefinition{
				{ID: "fs", Type: transport.KindStdio, Command: "fs-server", Nonce: "f1"},
			},
		},
	}
}

func statusIDs(statuses []domain.ServerStatus) []string {
	ids := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ids = append(ids, s.ID)
	}
	return ids
}

func waitForCacheState(t *testing.T, d *Daemon, id string, want server.CacheState) {
	t.Helper()

	require.Eventually(t, func() bool {
		srv, ok := d.Server(id)
		return ok && srv.CacheState().Get() == want
	}, 2*time.Second, 5*time.Millisecond, "server '%s' never reached cache state %s", id, want)
}

func TestNewDaemon_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewDaemon(Dependencies{})
	require.ErrorContains(t, err, "invalid dependencies for daemon")

	_, err = NewDaemon(validDependencies(t), WithCacheSaveInterval(0))
	require.ErrorContains(t, err, "invalid daemon options")
}

func TestDaemon_ReconcileStartsAutoStartServers(t *testing.T) {
	t.Parallel()

	tf := newFakeTransports()
	tf.serve("time", "now", "convert")
	d := newTestDaemon(t, tf, nil, nil)

	require.NoError(t, d.Reconcile(context.Background(), testCollections()))

	require.Equal(t, 1, tf.get("time").Starts())
	require.Equal(t, 0, tf.get("fs").Starts())

	waitForCacheState(t, d, "time", server.CacheStateLive)
	require.Len(t, d.Registry().Tools(), 2)
	for _, tool := range d.Registry().Tools() {
		require.Equal(t, "time", tool.Source.DefinitionID)
		require.Equal(t, "personal", tool.Source.CollectionID)
	}

	statuses := d.List()
	require.Equal(t, []string{"fs", "time"}, statusIDs(statuses))
	require.Equal(t, transport.StatusStopped, statuses[0].Status)
	require.Equal(t, transport.StatusRunning, statuses[1].Status)
	require.Equal(t, 2, statuses[1].Tools)
	require.NotNil(t, statuses[1].LastRunning)
}

func TestDaemon_ReconcileRemembersCollectionsWithoutLaunchParameters(t *testing.T) {
	t.Parallel()

	caches := testCaches(t)
	d := newTestDaemon(t, newFakeTransports(), caches, nil)
	require.NoError(t, d.Reconcile(context.Background(), testCollections()))

	raw, ok := caches[cache.ScopeUser].Collection("personal")
	require.True(t, ok)
	var col config.Collection
	require.NoError(t, json.Unmarshal(raw, &col))
	require.Equal(t, "personal", col.ID)
	require.Len(t, col.Servers, 1)
	require.Equal(t, "time", col.Servers[0].ID)
	require.Equal(t, "t1", col.Servers[0].Nonce)
	require.Empty(t, col.Servers[0].Command)

	_, ok = caches[cache.ScopeWorkspace].Collection("workspace")
	require.True(t, ok)
	_, ok = caches[cache.ScopeUser].Collection("workspace")
	require.False(t, ok)

	// Collections missing from the next reconcile are forgotten.
	require.NoError(t, d.Reconcile(context.Background(), testCollections()[:1]))
	_, ok = caches[cache.ScopeWorkspace].Collection("workspace")
	require.False(t, ok)
}

func TestDaemon_ReconcileRemovesAndUpdatesServers(t *testing.T) {
	t.Parallel()

	tf := newFakeTransports()
	d := newTestDaemon(t, tf, nil, nil)
	ctx := context.Background()

	require.NoError(t, d.Reconcile(ctx, testCollections()))
	st, err := d.Start(ctx, "fs")
	require.NoError(t, err)
	require.Equal(t, transport.StatusRunning, st.Status)
	fsChannel := tf.get("fs").Last()
	require.NotNil(t, fsChannel)

	cols := testCollections()[:1]
	cols[0].Servers[0].Label = "Clock"
	require.NoError(t, d.Reconcile(ctx, cols))

	_, ok := d.Server("fs")
	require.False(t, ok)
	require.Equal(t, 1, fsChannel.Stops())

	srv, ok := d.Server("time")
	require.True(t, ok)
	require.Equal(t, "Clock", srv.Definition().Label)
	require.Equal(t, []string{"time"}, statusIDs(d.List()))
}

func TestDaemon_ReconcileRestartsChangedRunningServers(t *testing.T) {
	t.Parallel()

	tf := newFakeTransports()
	d := newTestDaemon(t, tf, nil, nil)
	ctx := context.Background()

	require.NoError(t, d.Reconcile(ctx, testCollections()))
	_, err := d.Start(ctx, "fs")
	require.NoError(t, err)
	require.Equal(t, 1, tf.get("fs").Starts())

	cols := testCollections()
	cols[1].Servers[0].Nonce = "f2"
	require.NoError(t, d.Reconcile(ctx, cols))

	require.Equal(t, 2, tf.get("fs").Starts())
	st, err := d.Status("fs")
	require.NoError(t, err)
	require.Equal(t, transport.StatusRunning, st.Status)
}

func TestDaemon_ReconcileDuplicateIDs(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t, newFakeTransports(), nil, nil)
	cols := []config.Collection{
		{ID: "a", Scope: config.ScopeWorkspace, Servers: []config.ServerDefinition{{ID: "x", Command: "x", Nonce: "1"}}},
		{ID: "b", Scope: config.ScopeWorkspace, Servers: []config.ServerDefinition{{ID: "x", Command: "y", Nonce: "2"}}},
	}

	err := d.Reconcile(context.Background(), cols)
	require.EqualError(t, err, "server 'x' is declared by collections 'a' and 'b'")

	st, err := d.Status("x")
	require.NoError(t, err)
	require.Equal(t, "a", st.CollectionID)
}

func TestDaemon_RestorePublishesCachedToolsBehindGate(t *testing.T) {
	t.Parallel()

	caches := testCaches(t)
	tf := newFakeTransports()
	tf.serve("time", "now")

	first := newTestDaemon(t, tf, caches, nil)
	require.NoError(t, first.Reconcile(context.Background(), testCollections()))
	waitForCacheState(t, first, "time", server.CacheStateLive)
	require.NoError(t, first.Shutdown(context.Background()))

	next := newFakeTransports()
	d := newTestDaemon(t, next, caches, nil)
	d.Restore()

	srv, ok := d.Server("time")
	require.True(t, ok)
	require.Equal(t, server.CacheStateCached, srv.CacheState().Get())
	require.Len(t, d.Registry().Tools(), 1)

	// The restored server's collection has not been loaded yet, so starts wait.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	st, err := d.Start(ctx, "time")
	require.NoError(t, err)
	require.Equal(t, transport.StatusStopped, st.Status)
	require.Equal(t, 0, next.get("time").Starts())

	require.NoError(t, d.Reconcile(context.Background(), testCollections()))
	require.Eventually(t, func() bool {
		_, _ = d.Start(context.Background(), "time")
		return next.get("time").Starts() > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, next.get("time").Starts())
}

func TestDaemon_NeedsAttention(t *testing.T) {
	t.Parallel()

	tf := newFakeTransports()
	tf.get("broken").StartErr = errors.New("boom")
	d := newTestDaemon(t, tf, nil, denyCollections{"remote"})
	ctx := context.Background()

	cols := []config.Collection{
		{ID: "workspace", Scope: config.ScopeWorkspace, Servers: []config.ServerDefinition{
			{ID: "broken", Command: "broken", Nonce: "b"},
			{ID: "fresh", Command: "fresh", Nonce: "f"},
		}},
		{ID: "remote", Scope: config.ScopeRemote, Servers: []config.ServerDefinition{
			{ID: "untrusted", URL: "https://example.com/mcp", Type: transport.KindHTTP, Nonce: "u"},
		}},
	}
	require.NoError(t, d.Reconcile(ctx, cols))

	st, err := d.Start(ctx, "broken")
	require.NoError(t, err)
	require.Equal(t, transport.StatusError, st.Status)
	require.NotEmpty(t, st.Message)

	// Trusted servers with nothing fresh need attention; untrusted ones wait for a decision.
	require.Equal(t, []string{"broken", "fresh"}, statusIDs(d.NeedsAttention()))

	st, err = d.Start(ctx, "untrusted")
	require.NoError(t, err)
	require.Equal(t, transport.StatusError, st.Status)
	require.Contains(t, st.Message, "not trusted")
	require.Equal(t, 0, tf.get("untrusted").Starts())
}

func TestDaemon_UnknownServer(t *testing.T) {
	t.Parallel()

	d := newTestDaemon(t, newFakeTransports(), nil, nil)
	ctx := context.Background()

	_, err := d.Status("missing")
	require.ErrorIs(t, err, apperrors.ErrServerNotFound)
	_, err = d.Start(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrServerNotFound)
	_, err = d.Stop(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrServerNotFound)
}

func TestDaemon_Stop(t *testing.T) {
	t.Parallel()

	tf := newFakeTransports()
	d := newTestDaemon(t, tf, nil, nil)
	ctx := context.Background()

	require.NoError(t, d.Reconcile(ctx, testCollections()))
	st, err := d.Stop(ctx, "time")
	require.NoError(t, err)
	require.Equal(t, transport.StatusStopped, st.Status)
	require.Equal(t, 1, tf.get("time").Last().Stops())
}

func TestDaemon_Shutdown(t *testing.T) {
	t.Parallel()

	caches := testCaches(t)
	tf := newFakeTransports()
	d := newTestDaemon(t, tf, caches, nil)
	ctx := context.Background()

	require.NoError(t, d.Reconcile(ctx, testCollections()))
	require.True(t, caches[cache.ScopeUser].Dirty())

	require.NoError(t, d.Shutdown(ctx))
	require.Empty(t, d.List())
	require.Empty(t, d.Registry().Tools())
	require.Equal(t, 1, tf.get("time").Last().Stops())
	require.False(t, caches[cache.ScopeUser].Dirty())

	require.EqualError(t, d.Reconcile(ctx, testCollections()), "daemon is shut down")
	require.NoError(t, d.Shutdown(ctx))
}

func TestDaemon_Load(t *testing.T) {
	t.Parallel()

	deps := validDependencies(t)
	require.NoError(t, os.WriteFile(deps.ConfigPath, []byte(`
[[collections]]
id = "workspace"

  [[collections.servers]]
  id = "time"
  command = "uvx"
  args = ["mcp-server-time"]
`), 0o600))

	secretsDir := t.TempDir()
	require.NoError(t, os.Chmod(secretsDir, perms.SecureDir))
	secrets := filepath.Join(secretsDir, "secrets.toml")
	execCtx := configcontext.NewExecutionContextConfig(secrets)
	_, err := execCtx.Upsert(configcontext.ServerExecutionContext{Name: "time", Args: []string{"--local-timezone=UTC"}})
	require.NoError(t, err)
	deps.ExecutionContext = execCtx

	d, err := NewDaemon(deps, WithTransportFactory(newFakeTransports().factory))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })

	require.NoError(t, d.Load(context.Background()))
	srv, ok := d.Server("time")
	require.True(t, ok)
	require.Equal(t, []string{"mcp-server-time", "--local-timezone=UTC"}, srv.Definition().Args)

	require.NoError(t, os.Remove(deps.ConfigPath))
	require.ErrorIs(t, d.Load(context.Background()), config.ErrConfigLoadFailed)
}

func TestNeedsAttention(t *testing.T) {
	t.Parallel()

	failed := connection.Failed(transport.ErrorCodeGeneric, "boom")
	stopped := connection.Stopped()

	tests := []struct {
		name    string
		st      *connection.State
		cs      server.CacheState
		trusted bool
		want    bool
	}{
		{name: "failed", st: failed, cs: server.CacheStateLive, want: true},
		{name: "unknown and trusted", st: stopped, cs: server.CacheStateUnknown, trusted: true, want: true},
		{name: "outdated and trusted", st: stopped, cs: server.CacheStateOutdated, trusted: true, want: true},
		{name: "unknown and untrusted", st: stopped, cs: server.CacheStateUnknown},
		{name: "cached", st: stopped, cs: server.CacheStateCached, trusted: true},
		{name: "live", st: stopped, cs: server.CacheStateLive, trusted: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, needsAttention(tc.st, tc.cs, tc.trusted))
		})
	}
}

func TestScopeOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, cache.ScopeUser, scopeOf(config.Collection{Scope: config.ScopeUser}))
	require.Equal(t, cache.ScopeWorkspace, scopeOf(config.Collection{Scope: config.ScopeWorkspace}))
	require.Equal(t, cache.ScopeWorkspace, scopeOf(config.Collection{Scope: config.ScopeRemote}))
}
