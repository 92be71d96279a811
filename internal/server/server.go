// Package server provides the long-lived façade held for each server definition. A Server owns the connection to
// its server, derives how fresh its published tools and prompts are, and keeps the metadata cache current.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mozilla-ai/mcphost/internal/cache"
	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/connection"
	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/telemetry"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// StartOptions describe one start request.
type StartOptions struct {
	// IsFromInteraction marks a start a user asked for. Only those report failures through the notify func.
	IsFromInteraction bool

	// Debug launches the server under the debugger its definition declares.
	Debug bool
}

// snapshot is the result of one successful live fetch.
type snapshot struct {
	nonce        string
	capabilities transport.Capabilities
	tools        []transport.Tool
	prompts      []transport.Prompt
}

func (s *snapshot) entry() cache.Entry {
	return cache.Entry{
		Nonce:        s.nonce,
		Tools:        s.tools,
		Prompts:      s.prompts,
		Capabilities: s.capabilities,
	}
}

// Server is the façade for one server definition.
// Subscribers to its observables run synchronously after each change and must not call Start or Stop directly.
// New should be used to create instances of Server.
type Server struct {
	logger    hclog.Logger
	id        string
	prefix    string
	metadata  *cache.Cache
	options   Options
	telemetry *telemetry.Telemetry
	limiter   *rate.Limiter

	definition *reactive.Value[config.ServerDefinition]
	collection *reactive.Value[config.Collection]
	connState  *reactive.Value[*connection.State]
	fetch      *reactive.Value[fetchState]
	live       *reactive.Value[*snapshot]
	entry      reactive.Observable[*cache.Entry]

	cacheState *reactive.Derived[CacheState]
	tools      *reactive.Derived[[]Tool]
	prompts    *reactive.Derived[[]Prompt]

	ctx    context.Context
	cancel context.CancelFunc

	starts singleflight.Group

	// fetchMu serializes live fetches so notification-driven fetches build on the initial one.
	fetchMu         sync.Mutex
	toolsPending    atomic.Bool
	promptsPending  atomic.Bool
	schemaWarning   atomic.Pointer[error]
	applyMu         sync.Mutex
	mu              sync.Mutex
	conn            *connection.Connection
	connDebug       bool
	disposeConn     func()
	handler         transport.Handler
	handlerGen      uint64
	disposeHandlers []func()
}

// New returns a stopped server for def, which belongs to collection. prefix makes its tool and prompt identifiers
// unique, and metadata is the cache for the collection's scope.
func New(
	logger hclog.Logger,
	def config.ServerDefinition,
	collection config.Collection,
	prefix string,
	metadata *cache.Cache,
	opts ...Option,
) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if def.ID == "" {
		return nil, fmt.Errorf("definition id cannot be empty")
	}
	if prefix == "" {
		return nil, fmt.Errorf("prefix cannot be empty")
	}
	if metadata == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	collection.Servers = nil
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		logger:     logger.Named("server").With("server", def.ID),
		id:         def.ID,
		prefix:     prefix,
		metadata:   metadata,
		options:    options,
		telemetry:  options.Telemetry,
		limiter:    rate.NewLimiter(rate.Every(options.RefetchInterval), 1),
		definition: reactive.NewValue(def),
		collection: reactive.NewValue(collection),
		connState:  reactive.NewValue(connection.Stopped()),
		fetch:      reactive.NewValue(fetchState{}),
		live:       reactive.NewValue[*snapshot](nil),
		entry:      metadata.Observe(def.ID),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.cacheState = reactive.NewDerived(func() CacheState {
		return deriveCacheState(s.definition.Get().Nonce, s.entry.Get(), s.fetch.Get())
	}, s.definition, s.entry, s.fetch)

	s.tools = reactive.NewDerived(func() []Tool {
		label := s.definition.Get().DisplayName()
		if snap := s.live.Get(); snap != nil && s.cacheState.Get() == CacheStateLive {
			return publishTools(s.prefix, s.id, label, snap.tools)
		}
		if e := s.entry.Get(); e != nil {
			return publishTools(s.prefix, s.id, label, e.Tools)
		}
		return nil
	}, s.definition, s.cacheState, s.live, s.entry)

	s.prompts = reactive.NewDerived(func() []Prompt {
		if snap := s.live.Get(); snap != nil && s.cacheState.Get() == CacheStateLive {
			return publishPrompts(s.prefix, s.id, snap.prompts)
		}
		if e := s.entry.Get(); e != nil {
			return publishPrompts(s.prefix, s.id, e.Prompts)
		}
		return nil
	}, s.cacheState, s.live, s.entry)

	return s, nil
}

// ID returns the definition identifier.
func (s *Server) ID() string {
	return s.id
}

// Prefix returns the prefix of the server's tool and prompt identifiers.
func (s *Server) Prefix() string {
	return s.prefix
}

// Definition returns the current definition.
func (s *Server) Definition() config.ServerDefinition {
	return s.definition.Get()
}

// Collection returns the collection the server belongs to, without its server list.
func (s *Server) Collection() config.Collection {
	return s.collection.Get()
}

// Update replaces the definition and collection. A running server keeps running with its previous launch
// configuration; the next Start restarts it when the nonce changed.
func (s *Server) Update(def config.ServerDefinition, collection config.Collection) error {
	if def.ID != s.id {
		return fmt.Errorf("definition id '%s' does not match server '%s'", def.ID, s.id)
	}
	collection.Servers = nil

	reactive.Transaction(func(tx *reactive.Tx) {
		s.definition.Set(def, tx)
		s.collection.Set(collection, tx)
	})
	return nil
}

// NeedsRestart reports whether the server runs with a launch configuration other than the current definition's.
func (s *Server) NeedsRestart() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	return conn != nil && s.connState.Get().IsRunning() && conn.Nonce() != s.definition.Get().Nonce
}

// ConnectionState follows whichever connection the server currently holds.
func (s *Server) ConnectionState() reactive.Observable[*connection.State] {
	return s.connState
}

// CacheState is the freshness of the published tools and prompts.
func (s *Server) CacheState() reactive.Observable[CacheState] {
	return s.cacheState
}

// Tools are the published tools, sorted by reference name.
// They come either wholly from the live server or wholly from the cache.
func (s *Server) Tools() reactive.Observable[[]Tool] {
	return s.tools
}

// Prompts are the published prompts, sorted by reference name.
func (s *Server) Prompts() reactive.Observable[[]Prompt] {
	return s.prompts
}

// Capabilities returns what the running server advertised, or what it advertised when it was last cached.
func (s *Server) Capabilities() transport.Capabilities {
	if st := s.connState.Get(); st.IsRunning() {
		return st.Handler.Capabilities()
	}
	if e := s.entry.Get(); e != nil {
		return e.Capabilities
	}
	return 0
}

// SchemaWarning returns the joined schema errors of the tools omitted from the last live fetch, or nil.
func (s *Server) SchemaWarning() error {
	if p := s.schemaWarning.Load(); p != nil {
		return *p
	}
	return nil
}

// Start brings the server up and returns the connection state it settled in.
// It waits for the activation gate, checks trust and restarts a connection whose launch configuration is stale.
// Concurrent calls share one attempt. Cancelling ctx abandons the wait and returns the current state;
// the shared attempt keeps going for the other callers until the server is disposed.
func (s *Server) Start(ctx context.Context, opts StartOptions) *connection.State {
	ch := s.starts.DoChan("start", func() (any, error) {
		attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()

		return s.start(attemptCtx, opts), nil
	})

	select {
	case res := <-ch:
		return res.Val.(*connection.State)
	case <-ctx.Done():
		return s.connState.Get()
	}
}

func (s *Server) start(ctx context.Context, opts StartOptions) *connection.State {
	def := s.definition.Get()
	if st := s.connState.Get(); st.IsRunning() && !s.stale(def, opts.Debug) {
		return st
	}

	if g := s.options.Gate; g != nil && !g.IsOpen() {
		s.logger.Debug("Waiting for activation before starting")
		if err := g.Wait(ctx); err != nil {
			return s.connState.Get()
		}
	}
	if s.ctx.Err() != nil {
		return s.connState.Get()
	}

	// The definition may have changed while waiting.
	def = s.definition.Get()
	collection := s.collection.Get()

	if !s.options.Trust.Trusted(ctx, collection, opts.IsFromInteraction) {
		st := connection.Failed(
			transport.ErrorCodeGeneric,
			fmt.Sprintf("server '%s' belongs to collection '%s', which is not trusted", s.id, collection.ID),
		)
		s.logger.Warn("Refusing to start untrusted server", "collection", collection.ID)
		s.telemetry.RecordStart(s.id, 0, telemetry.OutcomeUntrusted, "", 0)
		s.publishState(st, "")
		s.report(opts, st)
		return st
	}

	ctx, span := s.telemetry.StartSpan(ctx, "server.start", s.id,
		attribute.Bool("mcp.start.interactive", opts.IsFromInteraction),
		attribute.Bool("mcp.start.debug", opts.Debug),
	)
	began := time.Now()

	conn, err := s.connectionFor(ctx, def, opts.Debug)
	if err != nil {
		code := transport.ErrorCodeGeneric
		if errors.Is(err, apperrors.ErrCommandNotFound) {
			code = transport.ErrorCodeCommandNotFound
		}
		st := connection.Failed(code, err.Error())
		s.logger.Error("Cannot create transport", "error", err)
		s.telemetry.RecordStart(s.id, time.Since(began), telemetry.OutcomeError, string(code), 0)
		telemetry.EndSpan(span, err)
		s.publishState(st, "")
		s.report(opts, st)
		return st
	}

	st := conn.Start(ctx)

	switch {
	case st.IsRunning():
		s.telemetry.RecordStart(s.id, time.Since(began), telemetry.OutcomeSuccess, "", st.Handler.Capabilities())
		span.SetAttributes(attribute.StringSlice("mcp.capabilities", st.Handler.Capabilities().Names()))
		telemetry.EndSpan(span, nil)
	case st.Status == transport.StatusError:
		s.telemetry.RecordStart(s.id, time.Since(began), telemetry.OutcomeError, string(st.Code), 0)
		telemetry.EndSpan(span, errors.New(st.Message))
		s.report(opts, st)
	default:
		s.telemetry.RecordStart(s.id, time.Since(began), telemetry.OutcomeCancelled, "", 0)
		telemetry.EndSpan(span, nil)
	}

	return st
}

// stale reports whether the current connection was started differently from what def and debug ask for.
func (s *Server) stale(def config.ServerDefinition, debug bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == nil || s.conn.Nonce() != def.Nonce || s.connDebug != debug
}

func (s *Server) report(opts StartOptions, st *connection.State) {
	if opts.IsFromInteraction {
		s.options.Notify(s.id, st)
	}
}

// connectionFor returns the connection to start for def, replacing the current one when it was created for
// another launch configuration.
func (s *Server) connectionFor(ctx context.Context, def config.ServerDefinition, debug bool) (*connection.Connection, error) {
	s.mu.Lock()
	cur := s.conn
	if cur != nil && cur.Nonce() == def.Nonce && s.connDebug == debug {
		s.mu.Unlock()
		return cur, nil
	}
	s.mu.Unlock()

	if cur != nil {
		s.logger.Info("Launch configuration changed, replacing connection")
		if err := cur.Stop(ctx); err != nil {
			s.logger.Warn("Error stopping previous connection", "error", err)
		}
		s.detach(cur)
	}

	tr, err := s.options.TransportFactory(s.logger, def, debug)
	if err != nil {
		return nil, err
	}

	conn, err := connection.New(s.logger, s.id, def.Nonce, tr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	s.connDebug = debug
	s.disposeConn = conn.State().Subscribe(func(st *connection.State) {
		s.mu.Lock()
		current := s.conn == conn
		s.mu.Unlock()
		if current {
			s.publishState(st, conn.Nonce())
		}
	})
	s.mu.Unlock()

	return conn, nil
}

// detach forgets conn if it is still the current connection.
func (s *Server) detach(conn *connection.Connection) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	dispose := s.disposeConn
	s.conn = nil
	s.disposeConn = nil
	s.mu.Unlock()

	if dispose != nil {
		dispose()
	}
}

// publishState mirrors st and moves the fetch machinery to its handler.
// nonce is the launch configuration the connection reporting st was created with.
func (s *Server) publishState(st *connection.State, nonce string) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	var h transport.Handler
	if st.IsRunning() {
		h = st.Handler
	}
	s.bind(h, nonce)
	s.telemetry.RecordStatus(s.id, st.Status)

	reactive.Transaction(func(tx *reactive.Tx) {
		s.connState.Set(st, tx)
		if h == nil {
			s.fetch.Set(fetchState{}, tx)
			s.live.Set(nil, tx)
		}
	})
}

// bind moves notification listeners to h and starts its initial fetch. Callers hold applyMu.
func (s *Server) bind(h transport.Handler, nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h == s.handler {
		return
	}
	for _, dispose := range s.disposeHandlers {
		dispose()
	}
	s.disposeHandlers = nil
	s.handler = h
	s.handlerGen++

	if h == nil {
		return
	}

	gen := s.handlerGen
	s.disposeHandlers = append(s.disposeHandlers,
		h.OnDidChangeToolList(func() { s.scheduleRefetch(h, gen, &s.toolsPending, s.refetchTools) }),
		h.OnDidChangePromptList(func() { s.scheduleRefetch(h, gen, &s.promptsPending, s.refetchPrompts) }),
	)

	go s.refresh(h, gen, nonce)
}

// commit runs fn in one transaction. current reports whether gen still identifies the bound handler, and stays
// true for the whole transaction.
func (s *Server) commit(gen uint64, fn func(tx *reactive.Tx, current bool)) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	current := s.handlerGen == gen
	s.mu.Unlock()

	reactive.Transaction(func(tx *reactive.Tx) { fn(tx, current) })
}

// refresh fetches tools and prompts from h and publishes them, writing them back to the cache.
func (s *Server) refresh(h transport.Handler, gen uint64, nonce string) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	started := false
	s.commit(gen, func(tx *reactive.Tx, current bool) {
		if current {
			s.fetch.Set(fetchState{phase: fetchRunning, nonce: nonce}, tx)
			started = true
		}
	})
	if !started {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.options.FetchTimeout)
	defer cancel()
	ctx, span := s.telemetry.StartSpan(ctx, "server.fetch", s.id)

	snap, err := s.fetchAll(ctx, h, nonce)
	telemetry.EndSpan(span, err)
	if err != nil {
		s.logger.Warn("Failed to fetch tools and prompts", "error", err)
		s.telemetry.RecordFetch(s.id, telemetry.OutcomeError)
		s.commit(gen, func(tx *reactive.Tx, current bool) {
			if current {
				s.fetch.Set(fetchState{phase: fetchFailed, nonce: nonce}, tx)
			}
		})
		return
	}

	s.telemetry.RecordFetch(s.id, telemetry.OutcomeSuccess)
	s.commit(gen, func(tx *reactive.Tx, current bool) {
		// Results are cached even when the handler went away meanwhile.
		s.metadata.Store(tx, s.id, snap.entry())
		if current {
			s.live.Set(snap, tx)
			s.fetch.Set(fetchState{phase: fetchSucceeded, nonce: nonce}, tx)
		}
	})
}

func (s *Server) fetchAll(ctx context.Context, h transport.Handler, nonce string) (*snapshot, error) {
	snap := &snapshot{nonce: nonce, capabilities: h.Capabilities()}

	if snap.capabilities.Has(transport.CapabilityTools) {
		tools, err := s.listTools(ctx, h)
		if err != nil {
			return nil, err
		}
		snap.tools = tools
	}

	if snap.capabilities.Has(transport.CapabilityPrompts) {
		prompts, err := transport.ListAll(ctx, h.ListPrompts)
		if err != nil {
			return nil, fmt.Errorf("error listing prompts: %w", err)
		}
		snap.prompts = prompts
	}

	return snap, nil
}

func (s *Server) listTools(ctx context.Context, h transport.Handler) ([]transport.Tool, error) {
	tools, err := transport.ListAll(ctx, h.ListTools)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrToolListFailed, err)
	}

	valid, schemaErr := validateTools(tools)
	if schemaErr != nil {
		s.logger.Warn("Omitting tools with invalid input schemas", "omitted", len(tools)-len(valid), "error", schemaErr)
		s.telemetry.RecordInvalidTools(s.id, len(tools)-len(valid))
		s.schemaWarning.Store(&schemaErr)
	} else {
		s.schemaWarning.Store(nil)
	}

	return valid, nil
}

// scheduleRefetch runs fn once the rate limit allows, coalescing notifications that arrive while one is pending.
func (s *Server) scheduleRefetch(
	h transport.Handler,
	gen uint64,
	pending *atomic.Bool,
	fn func(ctx context.Context, h transport.Handler, gen uint64),
) {
	if !pending.CompareAndSwap(false, true) {
		return
	}

	go func() {
		if err := s.limiter.Wait(s.ctx); err != nil {
			pending.Store(false)
			return
		}

		s.fetchMu.Lock()
		defer s.fetchMu.Unlock()
		pending.Store(false)

		ctx, cancel := context.WithTimeout(s.ctx, s.options.FetchTimeout)
		defer cancel()
		fn(ctx, h, gen)
	}()
}

func (s *Server) refetchTools(ctx context.Context, h transport.Handler, gen uint64) {
	tools, err := s.listTools(ctx, h)
	if err != nil {
		s.logger.Warn("Failed to refresh tools after list change", "error", err)
		return
	}
	s.amend(gen, func(next *snapshot) { next.tools = tools })
}

func (s *Server) refetchPrompts(ctx context.Context, h transport.Handler, gen uint64) {
	prompts, err := transport.ListAll(ctx, h.ListPrompts)
	if err != nil {
		s.logger.Warn("Failed to refresh prompts after list change", "error", err)
		return
	}
	s.amend(gen, func(next *snapshot) { next.prompts = prompts })
}

// amend replaces part of the live snapshot without moving the cache state back to refreshing.
func (s *Server) amend(gen uint64, change func(next *snapshot)) {
	s.commit(gen, func(tx *reactive.Tx, current bool) {
		base := s.live.Get()
		if !current || base == nil {
			return
		}
		next := *base
		change(&next)
		s.live.Set(&next, tx)
		s.metadata.Store(tx, s.id, next.entry())
	})
}

// Stop stops the current connection, if any. The server is Stopped afterwards even if no connection existed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Stop(ctx)
	}

	// Failures recorded before a connection existed are not cleared by the connection.
	if s.connState.Get().Status != transport.StatusStopped {
		s.publishState(connection.Stopped(), "")
	}
	return err
}

// Close stops the server for good. Later starts return the current state without doing anything.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	err := s.Stop(ctx)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		s.detach(conn)
	}

	s.telemetry.ForgetServer(s.id)
	return err
}

// Handler returns the running server's handler, starting the server without user interaction if needed.
func (s *Server) Handler(ctx context.Context) (transport.Handler, error) {
	if st := s.connState.Get(); st.IsRunning() {
		return st.Handler, nil
	}

	st := s.Start(ctx, StartOptions{})
	if st.IsRunning() {
		return st.Handler, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, s.notRunning(st)
}

func (s *Server) notRunning(st *connection.State) error {
	if st.Status == transport.StatusError && st.Code == transport.ErrorCodeCommandNotFound {
		return fmt.Errorf("%w: '%s': %w: %s", apperrors.ErrServerNotRunning, s.id, apperrors.ErrCommandNotFound, st.Message)
	}
	if st.Status == transport.StatusError {
		return fmt.Errorf("%w: '%s': %s", apperrors.ErrServerNotRunning, s.id, st.Message)
	}
	return fmt.Errorf("%w: '%s' is %s", apperrors.ErrServerNotRunning, s.id, st)
}
