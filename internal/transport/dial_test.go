package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

// loopbackTransport answers every request with a fixed initialize result and keeps the
// server-to-client request handler so tests can call into the client as a server would.
type loopbackTransport struct {
	mu         sync.Mutex
	initParams json.RawMessage
	handler    mcptransport.RequestHandler
}

func (l *loopbackTransport) Start(context.Context) error { return nil }

func (l *loopbackTransport) SendRequest(
	_ context.Context,
	req mcptransport.JSONRPCRequest,
) (*mcptransport.JSONRPCResponse, error) {
	if req.Method == string(mcp.MethodInitialize) {
		raw, err := json.Marshal(req.Params)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.initParams = raw
		l.mu.Unlock()
	}

	result := fmt.Sprintf(
		`{"protocolVersion":%q,"capabilities":{},"serverInfo":{"name":"loopback","version":"1.0.0"}}`,
		mcp.LATEST_PROTOCOL_VERSION,
	)
	return mcptransport.NewJSONRPCResultResponse(req.ID, json.RawMessage(result)), nil
}

func (l *loopbackTransport) SendNotification(context.Context, mcp.JSONRPCNotification) error { return nil }

func (l *loopbackTransport) SetNotificationHandler(func(mcp.JSONRPCNotification)) {}

func (l *loopbackTransport) SetRequestHandler(h mcptransport.RequestHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

func (l *loopbackTransport) Close() error { return nil }

func (l *loopbackTransport) GetSessionId() string { return "" }

func (l *loopbackTransport) advertisedCapabilities(t *testing.T) mcp.ClientCapabilities {
	t.Helper()

	l.mu.Lock()
	defer l.mu.Unlock()

	var params struct {
		Capabilities mcp.ClientCapabilities `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(l.initParams, &params))
	return params.Capabilities
}

func (l *loopbackTransport) serverRequest(ctx context.Context, method string) (*mcptransport.JSONRPCResponse, error) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()

	return h(ctx, mcptransport.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(int64(1)),
		Method:  method,
	})
}

// startLoopback starts spec through the real mcp-go client on top of a loopback transport.
func startLoopback(t *testing.T, spec LaunchSpec) *loopbackTransport {
	t.Helper()

	lt := &loopbackTransport{}
	tr, err := NewMCPTransport(hclog.NewNullLogger(), spec,
		WithDialer(func(ctx context.Context, spec LaunchSpec) (client.MCPClient, io.Reader, error) {
			c := client.NewClient(lt, clientOptions(spec)...)
			if err := c.Start(ctx); err != nil {
				return nil, nil, err
			}
			return c, nil, nil
		}))
	require.NoError(t, err)

	ch, err := tr.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Stop(context.Background()) })

	_, err = ch.Initialize(context.Background())
	require.NoError(t, err)

	return lt
}

func TestDial_RootsAdvertisedAndListed(t *testing.T) {
	t.Parallel()

	lt := startLoopback(t, LaunchSpec{
		Kind: KindHTTP,
		URL:  "http://localhost:1/mcp",
		Roots: []Root{
			{URI: "file:///work/project", Name: "project"},
			{URI: "file:///work/shared", Name: "shared"},
		},
	})

	caps := lt.advertisedCapabilities(t)
	require.NotNil(t, caps.Roots)

	resp, err := lt.serverRequest(context.Background(), string(mcp.MethodListRoots))
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	var listed mcp.ListRootsResult
	require.NoError(t, json.Unmarshal(resp.Result, &listed))
	require.Equal(t, []mcp.Root{
		{URI: "file:///work/project", Name: "project"},
		{URI: "file:///work/shared", Name: "shared"},
	}, listed.Roots)
}

func TestDial_NoRootsNotAdvertised(t *testing.T) {
	t.Parallel()

	lt := startLoopback(t, LaunchSpec{Kind: KindHTTP, URL: "http://localhost:1/mcp"})

	require.Nil(t, lt.advertisedCapabilities(t).Roots)

	_, err := lt.serverRequest(context.Background(), string(mcp.MethodListRoots))
	require.Error(t, err)
}
