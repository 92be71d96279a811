// Package transporttest provides in-memory transports, channels and handlers for tests.
package transporttest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// Transport is a configurable transport.Transport.
type Transport struct {
	// Unstartable makes CanStart report false.
	Unstartable bool

	// StartErr is returned from Start when set.
	StartErr error

	// Gate, when non-nil, blocks Start until it is closed or the context ends.
	Gate chan struct{}

	// NewChannel builds each channel. Defaults to a channel that is immediately Running with a fresh Handler.
	NewChannel func() *Channel

	starts   atomic.Int32
	mu       sync.Mutex
	channels []*Channel
}

// CanStart implements transport.Transport.
func (t *Transport) CanStart() bool {
	return !t.Unstartable
}

// Start implements transport.Transport.
func (t *Transport) Start(ctx context.Context) (transport.Channel, error) {
	t.starts.Add(1)

	if t.Gate != nil {
		select {
		case <-t.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.StartErr != nil {
		return nil, t.StartErr
	}

	var ch *Channel
	if t.NewChannel != nil {
		ch = t.NewChannel()
	} else {
		ch = NewChannel(transport.ChannelState{Status: transport.StatusRunning}, NewHandler())
	}

	t.mu.Lock()
	t.channels = append(t.channels, ch)
	t.mu.Unlock()

	return ch, nil
}

// Starts returns how many times Start was called.
func (t *Transport) Starts() int {
	return int(t.starts.Load())
}

// Channels returns every channel Start produced.
func (t *Transport) Channels() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Channel(nil), t.channels...)
}

// Last returns the most recently produced channel or nil.
func (t *Transport) Last() *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.channels) == 0 {
		return nil
	}
	return t.channels[len(t.channels)-1]
}

// Channel is a transport.Channel whose state tests drive directly.
type Channel struct {
	state   *reactive.Value[transport.ChannelState]
	handler *Handler

	// InitErr is returned from Initialize when set.
	InitErr error

	stops atomic.Int32
}

// NewChannel returns a channel in the given state that hands out h after initialization.
func NewChannel(initial transport.ChannelState, h *Handler) *Channel {
	return &Channel{state: reactive.NewValue(initial), handler: h}
}

// State implements transport.Channel.
func (c *Channel) State() reactive.Observable[transport.ChannelState] {
	return c.state
}

// SetState moves the channel to st.
func (c *Channel) SetState(st transport.ChannelState) {
	c.state.Set(st, nil)
}

// Initialize implements transport.Channel.
func (c *Channel) Initialize(ctx context.Context) (transport.Handler, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.InitErr != nil {
		return nil, c.InitErr
	}
	return c.handler, nil
}

// Stop implements transport.Channel.
func (c *Channel) Stop(context.Context) error {
	c.stops.Add(1)
	if c.state.Get().Status != transport.StatusStopped {
		c.state.Set(transport.ChannelState{Status: transport.StatusStopped}, nil)
	}
	return nil
}

// Stops returns how many times Stop was called.
func (c *Channel) Stops() int {
	return int(c.stops.Load())
}

// Observers returns the number of live subscriptions to the channel state.
func (c *Channel) Observers() int {
	return c.state.Observers()
}

// Handler returns the handler the channel hands out.
func (c *Channel) Handler() *Handler {
	return c.handler
}

// ErrNoSuchTool is returned by Handler.CallTool for unknown tools without a CallFunc.
var ErrNoSuchTool = errors.New("no such tool")

// Handler is an in-memory transport.Handler.
type Handler struct {
	mu sync.Mutex

	Caps      transport.Capabilities
	Info      transport.Implementation
	Tools     []transport.Tool
	Prompts   []transport.Prompt
	Resources []transport.Resource
	Templates []transport.ResourceTemplate
	Contents  map[string][]transport.ResourceContents

	// PageSize splits list results into pages when positive.
	PageSize int

	// ListErr is returned from every list operation when set.
	ListErr error

	// CallFunc handles CallTool when set.
	CallFunc func(ctx context.Context, name string, args map[string]any, progressToken string) (*transport.ToolResult, error)

	listToolCalls   int
	listPromptCalls int
	subscribed      map[string]int

	toolsChanged     transport.Emitter[struct{}]
	promptsChanged   transport.Emitter[struct{}]
	resourcesChanged transport.Emitter[struct{}]
	resourceUpdated  transport.Emitter[string]
	progressMu       sync.Mutex
	progress         map[string]*transport.Emitter[transport.Progress]
}

// NewHandler returns a handler advertising tools, prompts and resources.
func NewHandler() *Handler {
	return &Handler{
		Caps: transport.CapabilityTools | transport.CapabilityToolsListChanged |
			transport.CapabilityPrompts | transport.CapabilityPromptsListChanged |
			transport.CapabilityResources,
		Info:       transport.Implementation{Name: "fake", Version: "0.0.1"},
		Contents:   map[string][]transport.ResourceContents{},
		subscribed: map[string]int{},
		progress:   map[string]*transport.Emitter[transport.Progress]{},
	}
}

func page[T any](items []T, size int, cursor string) transport.Page[T] {
	if size <= 0 {
		return transport.Page[T]{Items: items}
	}
	start, _ := strconv.Atoi(cursor)
	if start >= len(items) {
		return transport.Page[T]{}
	}
	end := min(start+size, len(items))
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return transport.Page[T]{Items: items[start:end], NextCursor: next}
}

// SetTools replaces the tool list.
func (h *Handler) SetTools(tools ...transport.Tool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tools = tools
}

// SetPrompts replaces the prompt list.
func (h *Handler) SetPrompts(prompts ...transport.Prompt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Prompts = prompts
}

// ListToolCalls returns how many tool pages were requested.
func (h *Handler) ListToolCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listToolCalls
}

// ListPromptCalls returns how many prompt pages were requested.
func (h *Handler) ListPromptCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listPromptCalls
}

func (h *Handler) Capabilities() transport.Capabilities { return h.Caps }
func (h *Handler) ServerInfo() transport.Implementation { return h.Info }
func (h *Handler) Instructions() string { return "" }
func (h *Handler) Ping(context.Context) error { return nil }

func (h *Handler) ListTools(ctx context.Context, cursor string) (transport.Page[transport.Tool], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listToolCalls++
	if err := ctx.Err(); err != nil {
		return transport.Page[transport.Tool]{}, err
	}
	if h.ListErr != nil {
		return transport.Page[transport.Tool]{}, h.ListErr
	}
	return page(h.Tools, h.PageSize, cursor), nil
}

func (h *Handler) ListPrompts(ctx context.Context, cursor string) (transport.Page[transport.Prompt], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listPromptCalls++
	if err := ctx.Err(); err != nil {
		return transport.Page[transport.Prompt]{}, err
	}
	if h.ListErr != nil {
		return transport.Page[transport.Prompt]{}, h.ListErr
	}
	return page(h.Prompts, h.PageSize, cursor), nil
}

func (h *Handler) ListResources(ctx context.Context, cursor string) (transport.Page[transport.Resource], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return transport.Page[transport.Resource]{}, err
	}
	if h.ListErr != nil {
		return transport.Page[transport.Resource]{}, h.ListErr
	}
	return page(h.Resources, h.PageSize, cursor), nil
}

func (h *Handler) ListResourceTemplates(
	ctx context.Context,
	cursor string,
) (transport.Page[transport.ResourceTemplate], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return transport.Page[transport.ResourceTemplate]{}, err
	}
	return page(h.Templates, h.PageSize, cursor), nil
}

func (h *Handler) CallTool(
	ctx context.Context,
	name string,
	args map[string]any,
	progressToken string,
) (*transport.ToolResult, error) {
	if h.CallFunc != nil {
		return h.CallFunc(ctx, name, args, progressToken)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.Tools {
		if t.Name == name {
			return &transport.ToolResult{Content: nil}, nil
		}
	}
	return nil, ErrNoSuchTool
}

func (h *Handler) GetPrompt(_ context.Context, name string, _ map[string]string) (*transport.PromptResult, error) {
	return &transport.PromptResult{Description: name}, nil
}

func (h *Handler) ReadResource(ctx context.Context, uri string) ([]transport.ResourceContents, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Contents[uri], nil
}

func (h *Handler) Complete(
	_ context.Context,
	_ transport.CompletionRef,
	_ string,
	value string,
) (*transport.Completion, error) {
	return &transport.Completion{Values: []string{value}}, nil
}

func (h *Handler) Subscribe(_ context.Context, uri string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed[uri]++
	return nil
}

func (h *Handler) Unsubscribe(_ context.Context, uri string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed[uri]--
	return nil
}

// Subscriptions returns the net number of subscribe calls for uri.
func (h *Handler) Subscriptions(uri string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribed[uri]
}

func (h *Handler) OnDidUpdateResource(fn func(uri string)) func() {
	return h.resourceUpdated.On(fn)
}

func (h *Handler) OnDidChangeToolList(fn func()) func() {
	return h.toolsChanged.On(func(struct{}) { fn() })
}

func (h *Handler) OnDidChangePromptList(fn func()) func() {
	return h.promptsChanged.On(func(struct{}) { fn() })
}

func (h *Handler) OnDidChangeResourceList(fn func()) func() {
	return h.resourcesChanged.On(func(struct{}) { fn() })
}

func (h *Handler) OnProgress(token string, fn func(transport.Progress)) func() {
	h.progressMu.Lock()
	defer h.progressMu.Unlock()
	e, ok := h.progress[token]
	if !ok {
		e = &transport.Emitter[transport.Progress]{}
		h.progress[token] = e
	}
	return e.On(fn)
}

// EmitToolsChanged simulates a tools list-changed notification.
func (h *Handler) EmitToolsChanged() {
	h.toolsChanged.Emit(struct{}{})
}

// EmitPromptsChanged simulates a prompts list-changed notification.
func (h *Handler) EmitPromptsChanged() {
	h.promptsChanged.Emit(struct{}{})
}

// EmitResourceUpdated simulates a resource updated notification.
func (h *Handler) EmitResourceUpdated(uri string) {
	h.resourceUpdated.Emit(uri)
}

// EmitProgress delivers p to listeners of token.
func (h *Handler) EmitProgress(token string, p transport.Progress) {
	h.progressMu.Lock()
	e := h.progress[token]
	h.progressMu.Unlock()
	if e != nil {
		e.Emit(p)
	}
}

// Listeners returns the number of live notification and progress listeners.
func (h *Handler) Listeners() int {
	h.progressMu.Lock()
	n := 0
	for _, e := range h.progress {
		n += e.Len()
	}
	h.progressMu.Unlock()
	return n + h.toolsChanged.Len() + h.promptsChanged.Len() + h.resourcesChanged.Len() + h.resourceUpdated.Len()
}

// SetText replaces the contents of uri with a single text entry.
func (h *Handler) SetText(uri string, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Contents[uri] = []transport.ResourceContents{{URI: uri, MIMEType: "text/plain", Text: &text}}
}

// SetResources replaces the resource list.
func (h *Handler) SetResources(resources ...transport.Resource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Resources = resources
}

// EmitResourcesChanged simulates a resources list-changed notification.
func (h *Handler) EmitResourcesChanged() {
	h.resourcesChanged.Emit(struct{}{})
}
