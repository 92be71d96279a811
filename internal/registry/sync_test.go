package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/prefix"
	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/server"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

type fakeServer struct {
	id      string
	pfx     string
	tools   *reactive.Value[[]server.Tool]
	prompts *reactive.Value[[]server.Prompt]

	mu    sync.Mutex
	calls []string
}

func newFakeServer(id string, pfx string) *fakeServer {
	return &fakeServer{
		id:      id,
		pfx:     pfx,
		tools:   reactive.NewValue[[]server.Tool](nil),
		prompts: reactive.NewValue[[]server.Prompt](nil),
	}
}

func (f *fakeServer) ID() string { return f.id }

func (f *fakeServer) Definition() config.ServerDefinition {
	return config.ServerDefinition{ID: f.id, Label: "Server " + f.id}
}

func (f *fakeServer) Collection() config.Collection { return config.Collection{ID: "workspace"} }

func (f *fakeServer) Tools() reactive.Observable[[]server.Tool] { return f.tools }

func (f *fakeServer) Prompts() reactive.Observable[[]server.Prompt] { return f.prompts }

func (f *fakeServer) CallTool(
	_ context.Context,
	name string,
	_ map[string]any,
	_ func(transport.Progress),
) (*transport.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return &transport.ToolResult{}, nil
}

func (f *fakeServer) GetPrompt(_ context.Context, name string, _ map[string]string) (*transport.PromptResult, error) {
	return &transport.PromptResult{Description: f.id + ":" + name}, nil
}

func (f *fakeServer) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServer) publish(tools ...transport.Tool) {
	out := make([]server.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, server.Tool{
			ID:            prefix.ID(f.pfx, t.Name),
			ReferenceName: prefix.SanitizeName(t.Name),
			ServerID:      f.id,
			Definition:    t,
		})
	}
	f.tools.Set(out, nil)
}

func (f *fakeServer) publishPrompts(names ...string) {
	out := make([]server.Prompt, 0, len(names))
	for _, n := range names {
		out = append(out, server.Prompt{
			ID:            prefix.ID(f.pfx, n),
			ReferenceName: prefix.SanitizeName(n),
			ServerID:      f.id,
			Definition:    transport.Prompt{Name: n},
		})
	}
	f.prompts.Set(out, nil)
}

func newSync(t *testing.T) (*Registry, *SyncService) {
	t.Helper()

	r, err := NewRegistry(hclog.NewNullLogger())
	require.NoError(t, err)
	s, err := NewSyncService(hclog.NewNullLogger(), r)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return r, s
}

func toolIDs(r *Registry) []string {
	var ids []string
	for _, t := range r.Tools() {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestNewSyncService(t *testing.T) {
	t.Parallel()

	_, err := NewSyncService(nil, nil)
	require.EqualError(t, err, "logger cannot be nil")
	_, err = NewSyncService(hclog.NewNullLogger(), nil)
	require.EqualError(t, err, "registry cannot be nil")
}

func TestSyncService_FollowsPublishedTools(t *testing.T) {
	t.Parallel()

	r, s := newSync(t)
	a := newFakeServer("a", "mcp_a_")
	a.publish(transport.Tool{Name: "read"}, transport.Tool{Name: "write"})

	require.NoError(t, s.Add(a))
	require.Error(t, s.Add(a))
	require.Equal(t, []string{"mcp_a_read", "mcp_a_write"}, toolIDs(r))

	read, ok := r.Tool("mcp_a_read")
	require.True(t, ok)
	require.Equal(t, Source{CollectionID: "workspace", DefinitionID: "a", Label: "Server a"}, read.Source)

	a.publish(transport.Tool{Name: "read", Description: "changed"}, transport.Tool{Name: "list"})
	require.Equal(t, []string{"mcp_a_list", "mcp_a_read"}, toolIDs(r))
	read, ok = r.Tool("mcp_a_read")
	require.True(t, ok)
	require.Equal(t, "changed", read.Definition.Description)

	_, err := r.CallTool(context.Background(), "mcp_a_list", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"list"}, a.called())

	s.Remove("a")
	require.Empty(t, r.Tools())

	a.publish(transport.Tool{Name: "again"})
	require.Empty(t, r.Tools())
}

func TestSyncService_Prompts(t *testing.T) {
	t.Parallel()

	r, s := newSync(t)
	a := newFakeServer("a", "mcp_a_")
	a.publishPrompts("greet")
	require.NoError(t, s.Add(a))

	res, err := r.GetPrompt(context.Background(), "mcp_a_greet", nil)
	require.NoError(t, err)
	require.Equal(t, "a:greet", res.Description)

	a.publishPrompts()
	require.Empty(t, r.Prompts())
}

func TestSyncService_SameNameOnDifferentServers(t *testing.T) {
	t.Parallel()

	r, s := newSync(t)
	var gen prefix.Generator
	a := newFakeServer("a", gen.Generate("github"))
	b := newFakeServer("b", gen.Generate("github"))
	a.publish(transport.Tool{Name: "search.issues"})
	b.publish(transport.Tool{Name: "search_issues"})

	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	require.Equal(t, []string{"mcp_github2_search_issues", "mcp_github_search_issues"}, toolIDs(r))
	require.Empty(t, s.Waiting("a"))
	require.Empty(t, s.Waiting("b"))

	_, err := r.CallTool(context.Background(), "mcp_github_search_issues", nil, nil)
	require.NoError(t, err)
	_, err = r.CallTool(context.Background(), "mcp_github2_search_issues", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"search.issues"}, a.called())
	require.Equal(t, []string{"search_issues"}, b.called())
}

func TestSyncService_HandOff(t *testing.T) {
	t.Parallel()

	r, s := newSync(t)
	old := newFakeServer("old", "mcp_x_")
	next := newFakeServer("next", "mcp_x_")
	old.publish(transport.Tool{Name: "search"})
	next.publish(transport.Tool{Name: "search"}, transport.Tool{Name: "fetch"})

	require.NoError(t, s.Add(old))
	require.NoError(t, s.Add(next))
	require.Equal(t, []string{"mcp_x_search"}, s.Waiting("next"))
	require.Equal(t, []string{"mcp_x_fetch", "mcp_x_search"}, toolIDs(r))

	s.Remove("old")
	require.Empty(t, s.Waiting("next"))
	require.Equal(t, []string{"mcp_x_fetch", "mcp_x_search"}, toolIDs(r))

	search, ok := r.Tool("mcp_x_search")
	require.True(t, ok)
	require.Equal(t, "next", search.Source.DefinitionID)
}

func TestSyncService_HandOffWhenToolDropped(t *testing.T) {
	t.Parallel()

	r, s := newSync(t)
	a := newFakeServer("a", "mcp_x_")
	b := newFakeServer("b", "mcp_x_")
	a.publish(transport.Tool{Name: "search"})
	b.publish(transport.Tool{Name: "search"})

	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))
	require.Equal(t, []string{"mcp_x_search"}, s.Waiting("b"))

	a.publish()
	search, ok := r.Tool("mcp_x_search")
	require.True(t, ok)
	require.Equal(t, "b", search.Source.DefinitionID)
	require.Empty(t, s.Waiting("b"))

	// A server that stops wanting an identifier no longer waits for it.
	a.publish(transport.Tool{Name: "search"})
	require.Equal(t, []string{"mcp_x_search"}, s.Waiting("a"))
	a.publish()
	require.Empty(t, s.Waiting("a"))
}

func TestLedger_KeepsUnchangedRegistrations(t *testing.T) {
	t.Parallel()

	registered := map[string]int{}
	disposed := map[string]int{}
	l := &ledger[Tool]{
		kind: "tool",
		register: func(t Tool) (func(), error) {
			registered[t.ID]++
			return func() { disposed[t.ID]++ }, nil
		},
		conflict: errors.New("conflict"),
		id:       func(t Tool) string { return t.ID },
		same:     func(a, b Tool) bool { return a.Definition.Description == b.Definition.Description },
		servers:  map[string]*holdings[Tool]{},
	}

	l.sync(hclog.NewNullLogger(), "a", []Tool{{ID: "x"}, {ID: "y"}})
	l.sync(hclog.NewNullLogger(), "a", []Tool{{ID: "x"}, {ID: "y", Definition: transport.Tool{Description: "new"}}})
	l.sync(hclog.NewNullLogger(), "a", []Tool{{ID: "y", Definition: transport.Tool{Description: "new"}}})

	require.Equal(t, map[string]int{"x": 1, "y": 2}, registered)
	require.Equal(t, map[string]int{"x": 1, "y": 1}, disposed)

	l.remove(hclog.NewNullLogger(), "a")
	require.Equal(t, map[string]int{"x": 1, "y": 2}, disposed)
	require.Empty(t, l.servers)
}
