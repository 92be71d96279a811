package transport

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

type mockMCPClient struct {
	mu sync.Mutex

	initializeResult *mcp.InitializeResult
	initializeError  error
	pingError        error
	closed           bool

	toolPages     map[string]*mcp.ListToolsResult
	callToolReq   mcp.CallToolRequest
	callResult    *mcp.CallToolResult
	callError     error
	readResult    *mcp.ReadResourceResult
	subscribed    []string
	notifyHandler func(notification mcp.JSONRPCNotification)
}

func (m *mockMCPClient) Initialize(_ context.Context, _ mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return m.initializeResult, m.initializeError
}

func (m *mockMCPClient) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingError
}

func (m *mockMCPClient) setPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

func (m *mockMCPClient) ListResourcesByPage(
	_ context.Context,
	_ mcp.ListResourcesRequest,
) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{}, nil
}

func (m *mockMCPClient) ListResources(
	_ context.Context,
	_ mcp.ListResourcesRequest,
) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{}, nil
}

func (m *mockMCPClient) ListResourceTemplatesByPage(
	_ context.Context,
	_ mcp.ListResourceTemplatesRequest,
) (*mcp.ListResourceTemplatesResult, error) {
	return &mcp.ListResourceTemplatesResult{}, nil
}

func (m *mockMCPClient) ListResourceTemplates(
	_ context.Context,
	_ mcp.ListResourceTemplatesRequest,
) (*mcp.ListResourceTemplatesResult, error) {
	return &mcp.ListResourceTemplatesResult{}, nil
}

func (m *mockMCPClient) ReadResource(_ context.Context, _ mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return m.readResult, nil
}

func (m *mockMCPClient) Subscribe(_ context.Context, req mcp.SubscribeRequest) error {
	m.subscribed = append(m.subscribed, req.Params.URI)
	return nil
}

func (m *mockMCPClient) Unsubscribe(_ context.Context, _ mcp.UnsubscribeRequest) error {
	return nil
}

func (m *mockMCPClient) ListPromptsByPage(_ context.Context, _ mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	return &mcp.ListPromptsResult{}, nil
}

func (m *mockMCPClient) ListPrompts(_ context.Context, _ mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	return &mcp.ListPromptsResult{}, nil
}

func (m *mockMCPClient) GetPrompt(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func (m *mockMCPClient) ListToolsByPage(_ context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return m.toolPages[string(req.Params.Cursor)], nil
}

func (m *mockMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return m.ListToolsByPage(ctx, req)
}

func (m *mockMCPClient) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.callToolReq = req
	return m.callResult, m.callError
}

func (m *mockMCPClient) SetLevel(_ context.Context, _ mcp.SetLevelRequest) error {
	return nil
}

func (m *mockMCPClient) Complete(_ context.Context, _ mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	return &mcp.CompleteResult{}, nil
}

func (m *mockMCPClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockMCPClient) OnNotification(handler func(notification mcp.JSONRPCNotification)) {
	m.notifyHandler = handler
}
