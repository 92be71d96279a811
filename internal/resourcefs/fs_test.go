package resourcefs

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/connection"
	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/transport"
	"github.com/mozilla-ai/mcphost/internal/transport/transporttest"
)

type fakeServer struct {
	state *reactive.Value[*connection.State]
}

func newFakeServer(h transport.Handler) *fakeServer {
	return &fakeServer{state: reactive.NewValue(&connection.State{Status: transport.StatusRunning, Handler: h})}
}

func (s *fakeServer) Handler(context.Context) (transport.Handler, error) {
	st := s.state.Get()
	if !st.IsRunning() {
		return nil, apperrors.ErrServerNotRunning
	}
	return st.Handler, nil
}

func (s *fakeServer) ConnectionState() reactive.Observable[*connection.State] {
	return s.state
}

func (s *fakeServer) swap(h transport.Handler) {
	s.state.Set(&connection.State{Status: transport.StatusRunning, Handler: h}, nil)
}

func newTestFS(t *testing.T, servers map[string]Server, opts ...Option) *FS {
	t.Helper()

	fs, err := NewFS(hclog.NewNullLogger(), func(id string) (Server, bool) {
		s, ok := servers[id]
		return s, ok
	}, opts...)
	require.NoError(t, err)
	return fs
}

func mustEncode(t *testing.T, id string, uri string) string {
	t.Helper()

	encoded, err := Encode(id, uri)
	require.NoError(t, err)
	return encoded
}

func docsHandler() *transporttest.Handler {
	h := transporttest.NewHandler()
	h.SetText("file:///docs/readme.md", "# hello")
	h.Contents["file:///docs/logo.png"] = []transport.ResourceContents{{
		URI:      "file:///docs/logo.png",
		MIMEType: "image/png",
		Blob:     base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}),
	}}
	h.SetResources(
		transport.Resource{URI: "file:///docs/readme.md", Name: "readme"},
		transport.Resource{URI: "file:///docs/logo.png", Name: "logo"},
		transport.Resource{URI: "file:///docs/guides/intro.md", Name: "intro"},
		transport.Resource{URI: "file:///docs/guides/advanced/deep.md", Name: "deep"},
	)
	return h
}

func TestNewFS_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewFS(nil, func(string) (Server, bool) { return nil, false })
	require.ErrorContains(t, err, "logger cannot be nil")

	_, err = NewFS(hclog.NewNullLogger(), nil)
	require.ErrorContains(t, err, "resolver cannot be nil")

	_, err = NewFS(hclog.NewNullLogger(), func(string) (Server, bool) { return nil, false }, WithPollInterval(0))
	require.ErrorContains(t, err, "poll interval must be positive")
}

func TestFS_Stat(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t, map[string]Server{"docs": newFakeServer(docsHandler())})

	tests := []struct {
		name     string
		uri      string
		wantType FileType
		wantSize int64
		wantErr  error
	}{
		{name: "text file", uri: "file:///docs/readme.md", wantType: FileTypeFile, wantSize: 7},
		{name: "binary file", uri: "file:///docs/logo.png", wantType: FileTypeFile, wantSize: 4},
		{name: "directory from listing", uri: "file:///docs/guides", wantType: FileTypeDirectory},
		{name: "missing", uri: "file:///docs/nope.md", wantErr: apperrors.ErrResourceNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			info, err := fs.Stat(context.Background(), mustEncode(t, "docs", tc.uri))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantType, info.Type)
			require.Equal(t, tc.wantSize, info.Size)
		})
	}
}

func TestFS_UnknownServer(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t, map[string]Server{})

	_, err := fs.Stat(context.Background(), mustEncode(t, "ghost", "file:///a"))
	require.ErrorIs(t, err, apperrors.ErrResourceNotFound)
	require.ErrorIs(t, err, apperrors.ErrServerNotFound)

	_, err = fs.ReadFile(context.Background(), "not-a-resource-uri")
	require.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestFS_ReadFile(t *testing.T) {
	t.Parallel()

	h := docsHandler()
	h.Contents["file:///docs/bundle"] = []transport.ResourceContents{{URI: "file:///docs/bundle/one.txt"}}
	fs := newTestFS(t, map[string]Server{"docs": newFakeServer(h)})

	data, err := fs.ReadFile(context.Background(), mustEncode(t, "docs", "file:///docs/readme.md"))
	require.NoError(t, err)
	require.Equal(t, "# hello", string(data))

	data, err = fs.ReadFile(context.Background(), mustEncode(t, "docs", "file:///docs/logo.png"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, err = fs.ReadFile(context.Background(), mustEncode(t, "docs", "file:///docs/bundle"))
	require.ErrorIs(t, err, ErrIsDirectory)

	_, err = fs.ReadFile(context.Background(), mustEncode(t, "docs", "file:///docs/missing"))
	require.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestFS_ReadFile_ServerNotRunning(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(nil)
	srv.state.Set(connection.Stopped(), nil)
	fs := newTestFS(t, map[string]Server{"docs": srv})

	_, err := fs.ReadFile(context.Background(), mustEncode(t, "docs", "file:///docs/readme.md"))
	require.ErrorIs(t, err, apperrors.ErrServerNotRunning)
}

func TestFS_ReadDir(t *testing.T) {
	t.Parallel()

	h := docsHandler()
	h.PageSize = 1
	fs := newTestFS(t, map[string]Server{"docs": newFakeServer(h)})

	entries, err := fs.ReadDir(context.Background(), mustEncode(t, "docs", "file:///docs"))
	require.NoError(t, err)
	require.Equal(t, []DirEntry{
		{Name: "guides", URI: mustEncode(t, "docs", "file:///docs/guides"), Type: FileTypeDirectory},
		{Name: "logo.png", URI: mustEncode(t, "docs", "file:///docs/logo.png"), Type: FileTypeFile},
		{Name: "readme.md", URI: mustEncode(t, "docs", "file:///docs/readme.md"), Type: FileTypeFile},
	}, entries)

	entries, err = fs.ReadDir(context.Background(), mustEncode(t, "docs", "file:///docs/guides/"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "advanced", entries[0].Name)
	require.Equal(t, FileTypeDirectory, entries[0].Type)
	require.Equal(t, "intro.md", entries[1].Name)
	require.Equal(t, FileTypeFile, entries[1].Type)
}

func TestFS_Watch_Subscription(t *testing.T) {
	t.Parallel()

	const uri = "file:///docs/readme.md"

	first := docsHandler()
	first.Caps |= transport.CapabilityResourcesSubscribe
	srv := newFakeServer(first)
	fs := newTestFS(t, map[string]Server{"docs": srv})

	var fired atomic.Int32
	encoded := mustEncode(t, "docs", uri)
	dispose, err := fs.Watch(context.Background(), encoded, func(got string) {
		require.Equal(t, encoded, got)
		fired.Add(1)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return first.Subscriptions(uri) == 1 }, time.Second, 5*time.Millisecond)

	first.EmitResourceUpdated("file:///docs/other.md")
	first.EmitResourceUpdated(uri)
	require.Equal(t, int32(1), fired.Load())

	// A restarted server gets a fresh subscription and the old one is released.
	second := docsHandler()
	second.Caps |= transport.CapabilityResourcesSubscribe
	srv.swap(second)

	require.Eventually(t, func() bool {
		return second.Subscriptions(uri) == 1 && first.Subscriptions(uri) == 0
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, first.Listeners())

	second.EmitResourceUpdated(uri)
	require.Equal(t, int32(2), fired.Load())

	dispose()
	require.Eventually(t, func() bool { return second.Subscriptions(uri) == 0 }, time.Second, 5*time.Millisecond)
	require.Zero(t, second.Listeners())
	require.Zero(t, srv.state.Observers())

	second.EmitResourceUpdated(uri)
	require.Equal(t, int32(2), fired.Load())
}

func TestFS_Watch_Polling(t *testing.T) {
	t.Parallel()

	const uri = "file:///docs/readme.md"

	h := docsHandler()
	fs := newTestFS(t, map[string]Server{"docs": newFakeServer(h)}, WithPollInterval(10*time.Millisecond))

	fired := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := fs.Watch(ctx, mustEncode(t, "docs", uri), func(got string) { fired <- got })
	require.NoError(t, err)

	// Let the poller take its baseline before changing the contents.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fired)

	h.SetText(uri, "# changed")
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	cancel()
	require.Zero(t, h.Subscriptions(uri))
}
