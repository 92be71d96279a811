package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/reactive"
)

const (
	methodToolsListChanged     = "notifications/tools/list_changed"
	methodPromptsListChanged   = "notifications/prompts/list_changed"
	methodResourcesListChanged = "notifications/resources/list_changed"
	methodResourceUpdated      = "notifications/resources/updated"
	methodProgress             = "notifications/progress"
)

// MCPTransport reaches one server through an mcp-go client.
type MCPTransport struct {
	spec    LaunchSpec
	logger  hclog.Logger
	options Options
}

// NewMCPTransport returns a transport for spec.
func NewMCPTransport(logger hclog.Logger, spec LaunchSpec, opts ...Option) (*MCPTransport, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &MCPTransport{
		spec:    spec,
		logger:  logger,
		options: options,
	}, nil
}

// CanStart implements Transport.
func (t *MCPTransport) CanStart() bool {
	return t.spec.Validate() == nil
}

// Start implements Transport.
func (t *MCPTransport) Start(ctx context.Context) (Channel, error) {
	if err := t.spec.Validate(); err != nil {
		return nil, fmt.Errorf("cannot start server: %w", err)
	}

	t.logger.Info("Starting server", "kind", t.spec.Kind, "command", t.spec.Command, "args", t.spec.Args, "url", t.spec.URL)

	c, stderr, err := t.options.Dialer(ctx, t.spec)
	if err != nil {
		return nil, err
	}

	return newMCPChannel(t.logger, c, stderr, t.options), nil
}

type mcpChannel struct {
	logger  hclog.Logger
	client  client.MCPClient
	options Options
	state   *reactive.Value[ChannelState]

	// handler is nil until Initialize succeeds.
	mu      sync.Mutex
	handler *mcpHandler

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func newMCPChannel(logger hclog.Logger, c client.MCPClient, stderr io.Reader, options Options) *mcpChannel {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &mcpChannel{
		logger:  logger,
		client:  c,
		options: options,
		state:   reactive.NewValue(ChannelState{Status: StatusRunning}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.OnNotification(ch.dispatch)

	if stderr != nil {
		go ch.pipeStderr(ctx, stderr)
	}

	return ch
}

func (ch *mcpChannel) State() reactive.Observable[ChannelState] {
	return ch.state
}

func (ch *mcpChannel) Initialize(ctx context.Context) (Handler, error) {
	initCtx, cancel := context.WithTimeout(ctx, ch.options.InitTimeout)
	defer cancel()

	res, err := ch.client.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    ch.options.ClientInfo.Name,
				Version: ch.options.ClientInfo.Version,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing server: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("error initializing server: empty initialize result")
	}

	rawCaps, err := json.Marshal(res.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("error encoding server capabilities: %w", err)
	}
	caps, err := DecodeCapabilities(rawCaps)
	if err != nil {
		return nil, fmt.Errorf("error decoding server capabilities: %w", err)
	}

	h := &mcpHandler{
		client:       ch.client,
		capabilities: caps,
		info:         Implementation{Name: res.ServerInfo.Name, Version: res.ServerInfo.Version},
		instructions: res.Instructions,
		progress:     map[string]*Emitter[Progress]{},
	}

	ch.mu.Lock()
	ch.handler = h
	ch.mu.Unlock()

	ch.logger.Info(
		"Initialized server",
		"server", fmt.Sprintf("%s@%s", h.info.Name, h.info.Version),
		"capabilities", caps.String(),
	)

	go ch.monitor()

	return h, nil
}

func (ch *mcpChannel) Stop(ctx context.Context) error {
	var err error
	ch.stopOnce.Do(func() {
		ch.cancel()

		closed := make(chan error, 1)
		go func() { closed <- ch.client.Close() }()

		select {
		case err = <-closed:
		case <-ctx.Done():
			err = fmt.Errorf("timed out closing server connection: %w", ctx.Err())
		}

		ch.state.Set(ChannelState{Status: StatusStopped}, nil)
		close(ch.done)
	})
	return err
}

// monitor pings the server until the channel stops, moving to a retryable error when a ping fails.
func (ch *mcpChannel) monitor() {
	ticker := time.NewTicker(ch.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ch.options.PingTimeout)
			err := ch.client.Ping(ctx)
			cancel()
			if err == nil {
				ch.logger.Trace("Ping successful")
				continue
			}

			select {
			case <-ch.done:
				return
			default:
			}

			ch.logger.Warn("Lost connection to server", "error", err)
			ch.state.Set(ChannelState{
				Status:      StatusError,
				Message:     fmt.Sprintf("connection lost: %s", err),
				Code:        ErrorCodeGeneric,
				ShouldRetry: true,
			}, nil)
			return
		}
	}
}

func (ch *mcpChannel) pipeStderr(ctx context.Context, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if line := strings.TrimRight(scanner.Text(), "\r\n"); line != "" {
			ch.logger.Debug("stderr", "line", line)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		ch.logger.Error("Error reading stderr", "error", err)
	}
}

type updatedParams struct {
	URI string `json:"uri"`
}

type progressParams struct {
	ProgressToken any `json:"progressToken"`
	Progress
}

func (ch *mcpChannel) dispatch(n mcp.JSONRPCNotification) {
	ch.mu.Lock()
	h := ch.handler
	ch.mu.Unlock()
	if h == nil {
		return
	}

	switch n.Method {
	case methodToolsListChanged:
		h.toolsChanged.Emit(struct{}{})
	case methodPromptsListChanged:
		h.promptsChanged.Emit(struct{}{})
	case methodResourcesListChanged:
		h.resourcesChanged.Emit(struct{}{})
	case methodResourceUpdated:
		p, err := convert[updatedParams](n.Params)
		if err != nil {
			ch.logger.Warn("Malformed resource update notification", "error", err)
			return
		}
		h.resourceUpdated.Emit(p.URI)
	case methodProgress:
		p, err := convert[progressParams](n.Params)
		if err != nil {
			ch.logger.Warn("Malformed progress notification", "error", err)
			return
		}
		h.emitProgress(fmt.Sprint(p.ProgressToken), p.Progress)
	default:
		ch.logger.Trace("Unhandled notification", "method", n.Method)
	}
}

type mcpHandler struct {
	client       client.MCPClient
	capabilities Capabilities
	info         Implementation
	instructions string

	toolsChanged     Emitter[struct{}]
	promptsChanged   Emitter[struct{}]
	resourcesChanged Emitter[struct{}]
	resourceUpdated  Emitter[string]

	progressMu sync.Mutex
	progress   map[string]*Emitter[Progress]
}

func (h *mcpHandler) Capabilities() Capabilities { return h.capabilities }

func (h *mcpHandler) ServerInfo() Implementation { return h.info }

func (h *mcpHandler) Instructions() string { return h.instructions }

func (h *mcpHandler) Ping(ctx context.Context) error {
	return h.client.Ping(ctx)
}

func (h *mcpHandler) ListTools(ctx context.Context, cursor string) (Page[Tool], error) {
	req := mcp.ListToolsRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)

	res, err := h.client.ListToolsByPage(ctx, req)
	if err != nil {
		return Page[Tool]{}, fmt.Errorf("%w: %w", apperrors.ErrToolListFailed, err)
	}
	return toPage[Tool](res.Tools, string(res.NextCursor))
}

func (h *mcpHandler) ListPrompts(ctx context.Context, cursor string) (Page[Prompt], error) {
	req := mcp.ListPromptsRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)

	res, err := h.client.ListPromptsByPage(ctx, req)
	if err != nil {
		return Page[Prompt]{}, fmt.Errorf("error listing prompts: %w", err)
	}
	return toPage[Prompt](res.Prompts, string(res.NextCursor))
}

func (h *mcpHandler) ListResources(ctx context.Context, cursor string) (Page[Resource], error) {
	req := mcp.ListResourcesRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)

	res, err := h.client.ListResourcesByPage(ctx, req)
	if err != nil {
		return Page[Resource]{}, fmt.Errorf("error listing resources: %w", err)
	}
	return toPage[Resource](res.Resources, string(res.NextCursor))
}

func (h *mcpHandler) ListResourceTemplates(ctx context.Context, cursor string) (Page[ResourceTemplate], error) {
	req := mcp.ListResourceTemplatesRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)

	res, err := h.client.ListResourceTemplatesByPage(ctx, req)
	if err != nil {
		return Page[ResourceTemplate]{}, fmt.Errorf("error listing resource templates: %w", err)
	}
	return toPage[ResourceTemplate](res.ResourceTemplates, string(res.NextCursor))
}

func (h *mcpHandler) CallTool(
	ctx context.Context,
	name string,
	args map[string]any,
	progressToken string,
) (*ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	if progressToken != "" {
		req.Params.Meta = &mcp.Meta{ProgressToken: mcp.ProgressToken(progressToken)}
	}

	res, err := h.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrToolCallFailed, err)
	}

	out, err := convert[ToolResult](res)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrToolCallFailed, err)
	}
	return &out, nil
}

func (h *mcpHandler) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := h.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrPromptGenerationFailed, err)
	}

	out, err := convert[PromptResult](res)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrPromptGenerationFailed, err)
	}
	return &out, nil
}

func (h *mcpHandler) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	res, err := h.client.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrResourceReadFailed, err)
	}

	out, err := convert[[]ResourceContents](res.Contents)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrResourceReadFailed, err)
	}
	return out, nil
}

type completeParams struct {
	Ref      CompletionRef `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
}

type completeResult struct {
	Completion Completion `json:"completion"`
}

func (h *mcpHandler) Complete(ctx context.Context, ref CompletionRef, argument string, value string) (*Completion, error) {
	if !h.capabilities.Has(CapabilityCompletions) {
		return nil, apperrors.ErrNotImplemented
	}

	var p completeParams
	p.Ref = ref
	p.Argument.Name = argument
	p.Argument.Value = value

	params, err := convert[mcp.CompleteParams](p)
	if err != nil {
		return nil, err
	}

	res, err := h.client.Complete(ctx, mcp.CompleteRequest{Params: params})
	if err != nil {
		return nil, fmt.Errorf("error completing argument '%s': %w", argument, err)
	}

	out, err := convert[completeResult](res)
	if err != nil {
		return nil, err
	}
	return &out.Completion, nil
}

func (h *mcpHandler) Subscribe(ctx context.Context, uri string) error {
	req := mcp.SubscribeRequest{}
	req.Params.URI = uri
	return h.client.Subscribe(ctx, req)
}

func (h *mcpHandler) Unsubscribe(ctx context.Context, uri string) error {
	req := mcp.UnsubscribeRequest{}
	req.Params.URI = uri
	return h.client.Unsubscribe(ctx, req)
}

func (h *mcpHandler) OnDidUpdateResource(fn func(uri string)) func() {
	return h.resourceUpdated.On(fn)
}

func (h *mcpHandler) OnDidChangeToolList(fn func()) func() {
	return h.toolsChanged.On(func(struct{}) { fn() })
}

func (h *mcpHandler) OnDidChangePromptList(fn func()) func() {
	return h.promptsChanged.On(func(struct{}) { fn() })
}

func (h *mcpHandler) OnDidChangeResourceList(fn func()) func() {
	return h.resourcesChanged.On(func(struct{}) { fn() })
}

func (h *mcpHandler) OnProgress(token string, fn func(Progress)) func() {
	h.progressMu.Lock()
	e, ok := h.progress[token]
	if !ok {
		e = &Emitter[Progress]{}
		h.progress[token] = e
	}
	dispose := e.On(fn)
	h.progressMu.Unlock()

	return func() {
		h.progressMu.Lock()
		defer h.progressMu.Unlock()
		dispose()
		if e.Len() == 0 && h.progress[token] == e {
			delete(h.progress, token)
		}
	}
}

func (h *mcpHandler) emitProgress(token string, p Progress) {
	h.progressMu.Lock()
	e := h.progress[token]
	h.progressMu.Unlock()
	if e != nil {
		e.Emit(p)
	}
}

// progressListeners is used by tests to assert listeners are released.
func (h *mcpHandler) progressListeners() int {
	h.progressMu.Lock()
	defer h.progressMu.Unlock()
	return len(h.progress)
}

func toPage[T any](items any, next string) (Page[T], error) {
	converted, err := convert[[]T](items)
	if err != nil {
		return Page[T]{}, err
	}
	return Page[T]{Items: converted, NextCursor: next}, nil
}
