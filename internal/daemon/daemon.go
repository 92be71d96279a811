package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mozilla-ai/mcphost/internal/cache"
	"github.com/mozilla-ai/mcphost/internal/cmd"
	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/connection"
	configcontext "github.com/mozilla-ai/mcphost/internal/context"
	"github.com/mozilla-ai/mcphost/internal/domain"
	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/prefix"
	"github.com/mozilla-ai/mcphost/internal/registry"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
	"github.com/mozilla-ai/mcphost/internal/server"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// managed is one server the daemon owns, with what it needs to tear the server down again.
type managed struct {
	srv     *server.Server
	gate    *server.Gate
	scope   cache.Scope
	dispose func()
}

// Daemon owns one Server per loaded definition, keeps the registry in step with them and serves the API.
// NewDaemon should be used to create instances of Daemon.
type Daemon struct {
	logger     hclog.Logger
	options    Options
	loader     config.Loader
	configPath string
	execCtx    configcontext.Modifier
	caches     map[cache.Scope]*cache.Cache
	trust      server.Truster
	transports server.TransportFactory

	registry  *registry.Registry
	sync      *registry.SyncService
	fs        *resourcefs.FS
	status    *StatusTracker
	apiServer *APIServer
	prefixes  prefix.Generator

	// devWatcher is set before the first load and never replaced.
	devWatcher *Watcher

	mu      sync.Mutex
	servers map[string]*managed
	closed  bool
}

// NewDaemon creates a daemon with no servers. StartAndManage restores, loads and runs it.
func NewDaemon(deps Dependencies, opt ...Option) (*Daemon, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for daemon: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon options: %w", err)
	}

	logger := deps.Logger.Named("daemon")

	reg, err := registry.NewRegistry(logger)
	if err != nil {
		return nil, err
	}
	syncer, err := registry.NewSyncService(logger, reg)
	if err != nil {
		return nil, err
	}

	transports := opts.TransportFactory
	if transports == nil {
		transports = server.DefaultTransportFactory(
			transport.WithClientInfo(cmd.AppName(), cmd.Version()),
			transport.WithInitTimeout(opts.InitTimeout),
			transport.WithPing(opts.PingInterval, opts.PingTimeout),
		)
	}

	d := &Daemon{
		logger:     logger,
		options:    opts,
		loader:     deps.ConfigLoader,
		configPath: deps.ConfigPath,
		execCtx:    deps.ExecutionContext,
		caches:     deps.Caches,
		trust:      deps.Trust,
		transports: transports,
		registry:   reg,
		sync:       syncer,
		status:     NewStatusTracker(),
		servers:    map[string]*managed{},
	}

	d.fs, err = resourcefs.NewFS(logger, d.resolveResourceServer)
	if err != nil {
		return nil, err
	}

	apiDeps, err := NewAPIDependencies(logger, deps.APIAddr, d, reg, reg, d.fs, opts.Telemetry)
	if err != nil {
		return nil, err
	}
	d.apiServer, err = NewAPIServer(apiDeps, opts.APIOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	return d, nil
}

// Registry returns the global tool and prompt registry.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// FS returns the filesystem over every server's resources.
func (d *Daemon) FS() *resourcefs.FS {
	return d.fs
}

// Server returns the managed server with the given definition ID.
func (d *Daemon) Server(id string) (*server.Server, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.servers[id]
	if !ok {
		return nil, false
	}
	return m.srv, true
}

func (d *Daemon) resolveResourceServer(id string) (resourcefs.Server, bool) {
	srv, ok := d.Server(id)
	if !ok {
		return nil, false
	}
	return srv, true
}

// StartAndManage restores cached collections, loads the configuration and serves the API until ctx ends.
// All servers are stopped and the caches saved before it returns.
func (d *Daemon) StartAndManage(ctx context.Context) error {
	if d.options.DevMode {
		w, err := NewWatcher(d.logger.Named("dev"), d.options.WatchDebounce, func(id string) {
			d.restartChanged(ctx, id)
		})
		if err != nil {
			return err
		}
		d.devWatcher = w
	}

	d.Restore()

	if err := d.Load(ctx); err != nil {
		if errors.Is(err, config.ErrConfigLoadFailed) {
			return errors.Join(err, d.Shutdown(context.Background()))
		}
		d.logger.Warn("Some servers could not be loaded", "error", err)
	}

	configWatcher, err := NewWatcher(d.logger.Named("config"), d.options.WatchDebounce, func(string) {
		if err := d.Load(ctx); err != nil {
			d.logger.Error("Failed to reload configuration", "path", d.configPath, "error", err)
		}
	})
	if err != nil {
		return errors.Join(err, d.Shutdown(context.Background()))
	}
	if err := configWatcher.Sync(map[string]WatchTarget{"config": fileTarget(d.configPath)}); err != nil {
		d.logger.Warn("Configuration changes will not be picked up", "path", d.configPath, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.apiServer.Start(gctx) })
	g.Go(func() error { return configWatcher.Run(gctx) })
	g.Go(func() error {
		d.saveLoop(gctx)
		return nil
	})
	if d.devWatcher != nil {
		g.Go(func() error { return d.devWatcher.Run(gctx) })
	}

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	return errors.Join(runErr, d.Shutdown(context.Background()))
}

// Restore creates servers for the collections remembered in the caches, so their cached tools are published
// right away. Their starts stay gated until a load discovers their collection again.
func (d *Daemon) Restore() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, scope := range slices.Sorted(maps.Keys(d.caches)) {
		c := d.caches[scope]
		collections := c.Collections()
		for _, id := range slices.Sorted(maps.Keys(collections)) {
			var col config.Collection
			if err := json.Unmarshal(collections[id], &col); err != nil {
				d.logger.Warn("Discarding unreadable cached collection", "collection", id, "error", err)
				c.DeleteCollection(id)
				continue
			}

			for _, def := range col.Servers {
				if _, exists := d.servers[def.ID]; exists {
					continue
				}
				if _, err := d.addLocked(def, col, server.NewGate()); err != nil {
					d.logger.Warn("Failed to restore cached server", "collection", id, "server", def.ID, "error", err)
				}
			}
		}
	}

	d.logger.Info("Restored cached servers", "count", len(d.servers))
}

// Load reads the configuration file and reconciles the managed servers with it.
func (d *Daemon) Load(ctx context.Context) error {
	mod, err := d.loader.Load(d.configPath)
	if err != nil {
		return err
	}

	return d.Reconcile(ctx, mod.ListCollections())
}

// Reconcile makes the managed servers match collections.
// New definitions get a server, changed ones are updated in place and missing ones are closed. Auto-start
// servers and running servers whose launch configuration changed are started before it returns.
func (d *Daemon) Reconcile(ctx context.Context, collections []config.Collection) error {
	type wanted struct {
		def config.ServerDefinition
		col config.Collection
	}

	var errs []error
	want := map[string]wanted{}
	for _, col := range collections {
		for _, def := range col.Servers {
			if prev, dup := want[def.ID]; dup {
				errs = append(errs, fmt.Errorf(
					"server '%s' is declared by collections '%s' and '%s'", def.ID, prev.col.ID, col.ID,
				))
				continue
			}
			want[def.ID] = wanted{def: d.execCtx.Apply(def), col: col}
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is shut down")
	}

	var removed []*managed
	for _, id := range slices.Sorted(maps.Keys(d.servers)) {
		w, ok := want[id]
		if !ok || d.servers[id].scope != scopeOf(w.col) {
			removed = append(removed, d.detachLocked(id))
		}
	}

	var toStart []*server.Server
	for _, id := range slices.Sorted(maps.Keys(want)) {
		w := want[id]
		m, ok := d.servers[id]
		if ok {
			if err := m.srv.Update(w.def, w.col); err != nil {
				errs = append(errs, err)
				continue
			}
		} else {
			var err error
			if m, err = d.addLocked(w.def, w.col, server.NewGate()); err != nil {
				errs = append(errs, fmt.Errorf("server '%s': %w", id, err))
				continue
			}
		}
		m.gate.Open()

		if w.def.AutoStart || m.srv.NeedsRestart() {
			toStart = append(toStart, m.srv)
		}
	}

	byScope := map[cache.Scope][]config.Collection{}
	for _, col := range collections {
		byScope[scopeOf(col)] = append(byScope[scopeOf(col)], restorable(col, func(def config.ServerDefinition) string {
			return want[def.ID].def.Nonce
		}))
	}
	d.rememberCollectionsLocked(byScope)
	d.mu.Unlock()

	for _, m := range removed {
		d.closeManaged(ctx, m)
	}

	d.syncDevTargets()

	d.startAll(ctx, toStart)

	d.logger.Info("Reconciled servers", "servers", len(want), "removed", len(removed), "started", len(toStart))
	return errors.Join(errs...)
}

// addLocked creates and tracks the server for def. The caller holds d.mu.
func (d *Daemon) addLocked(def config.ServerDefinition, col config.Collection, gate *server.Gate) (*managed, error) {
	scope := scopeOf(col)
	pfx := d.prefixes.Generate(def.DisplayName())

	srv, err := server.New(
		d.logger,
		def,
		col,
		pfx,
		d.caches[scope],
		server.WithTransportFactory(d.transports),
		server.WithTrust(d.trust),
		server.WithActivationGate(gate),
		server.WithTelemetry(d.options.Telemetry),
		server.WithNotify(d.notify),
	)
	if err != nil {
		d.prefixes.Release(pfx)
		return nil, err
	}

	id := def.ID
	d.status.Track(id)
	dispose := srv.ConnectionState().Subscribe(func(st *connection.State) {
		_ = d.status.Update(id, st.Status)
	})

	if err := d.sync.Add(srv); err != nil {
		dispose()
		d.status.Forget(id)
		d.prefixes.Release(pfx)
		_ = srv.Close(context.Background())
		return nil, err
	}

	m := &managed{srv: srv, gate: gate, scope: scope, dispose: dispose}
	d.servers[id] = m
	return m, nil
}

// detachLocked stops tracking the server with the given ID and withdraws its registrations. The caller holds d.mu
// and closes the returned server once the lock is released.
func (d *Daemon) detachLocked(id string) *managed {
	m := d.servers[id]
	delete(d.servers, id)

	d.sync.Remove(id)
	m.dispose()
	d.status.Forget(id)
	d.prefixes.Release(m.srv.Prefix())

	return m
}

func (d *Daemon) closeManaged(ctx context.Context, m *managed) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.options.ShutdownTimeout)
	defer cancel()

	if err := m.srv.Close(ctx); err != nil {
		d.logger.Warn("Error closing server", "server", m.srv.ID(), "error", err)
	}
}

// rememberCollectionsLocked replaces the collection index of every cache with byScope.
func (d *Daemon) rememberCollectionsLocked(byScope map[cache.Scope][]config.Collection) {
	for scope, c := range d.caches {
		keep := map[string]struct{}{}
		for _, col := range byScope[scope] {
			raw, err := json.Marshal(col)
			if err != nil {
				d.logger.Warn("Failed to encode collection for the cache", "collection", col.ID, "error", err)
				continue
			}
			c.StoreCollection(col.ID, raw)
			keep[col.ID] = struct{}{}
		}
		for id := range c.Collections() {
			if _, ok := keep[id]; !ok {
				c.DeleteCollection(id)
			}
		}
	}
}

// startAll starts servers in parallel without user interaction and waits for them to settle.
func (d *Daemon) startAll(ctx context.Context, servers []*server.Server) {
	var g errgroup.Group
	for _, srv := range servers {
		g.Go(func() error {
			st := srv.Start(ctx, server.StartOptions{})
			if st.Status == transport.StatusError {
				d.logger.Warn("Server did not start", "server", srv.ID(), "state", st.String())
			}
			return nil
		})
	}
	_ = g.Wait()
}

// restartChanged restarts a running dev server after its watched files changed.
func (d *Daemon) restartChanged(ctx context.Context, id string) {
	srv, ok := d.Server(id)
	if !ok || !srv.ConnectionState().Get().IsRunning() {
		return
	}

	d.logger.Info("Watched files changed, restarting server", "server", id)
	if err := srv.Stop(ctx); err != nil {
		d.logger.Warn("Error stopping server for restart", "server", id, "error", err)
	}
	if st := srv.Start(ctx, server.StartOptions{}); !st.IsRunning() {
		d.logger.Warn("Server did not restart", "server", id, "state", st.String())
	}
}

// syncDevTargets points the dev watcher at the watch globs of the current definitions.
func (d *Daemon) syncDevTargets() {
	if d.devWatcher == nil {
		return
	}

	d.mu.Lock()
	targets := map[string]WatchTarget{}
	for id, m := range d.servers {
		def := m.srv.Definition()
		if def.Dev == nil || len(def.Dev.Watch) == 0 {
			continue
		}
		targets[id] = WatchTarget{Root: def.WorkDir(), Globs: def.Dev.Watch, Recursive: true}
	}
	d.mu.Unlock()

	if err := d.devWatcher.Sync(targets); err != nil {
		d.logger.Warn("Failed to watch dev files", "error", err)
	}
}

func (d *Daemon) notify(serverID string, st *connection.State) {
	if st.Code == transport.ErrorCodeCommandNotFound {
		d.logger.Error("Server command not found", "server", serverID, "message", st.Message)
		return
	}
	d.logger.Error("Server failed to start", "server", serverID, "message", st.Message)
}

func (d *Daemon) saveLoop(ctx context.Context) {
	ticker := time.NewTicker(d.options.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.saveCaches(ctx)
		}
	}
}

func (d *Daemon) saveCaches(ctx context.Context) error {
	var errs []error
	for _, scope := range slices.Sorted(maps.Keys(d.caches)) {
		c := d.caches[scope]
		if !c.Dirty() {
			continue
		}
		if err := c.Save(ctx); err != nil {
			d.logger.Warn("Failed to save cache", "scope", scope, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops every server in parallel and saves the caches. The daemon cannot be reused afterwards.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true

	var all []*managed
	for _, id := range slices.Sorted(maps.Keys(d.servers)) {
		all = append(all, d.detachLocked(id))
	}
	d.mu.Unlock()

	d.logger.Info("Stopping servers", "count", len(all))

	var g errgroup.Group
	for _, m := range all {
		g.Go(func() error {
			d.closeManaged(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	d.sync.Close()
	return d.saveCaches(ctx)
}

// List implements contracts.ServerController.
func (d *Daemon) List() []domain.ServerStatus {
	d.mu.Lock()
	servers := make([]*server.Server, 0, len(d.servers))
	for _, id := range slices.Sorted(maps.Keys(d.servers)) {
		servers = append(servers, d.servers[id].srv)
	}
	d.mu.Unlock()

	out := make([]domain.ServerStatus, 0, len(servers))
	for _, srv := range servers {
		out = append(out, d.statusOf(srv))
	}
	return out
}

// Status implements contracts.ServerController.
func (d *Daemon) Status(id string) (domain.ServerStatus, error) {
	srv, ok := d.Server(id)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", apperrors.ErrServerNotFound, id)
	}
	return d.statusOf(srv), nil
}

// Start implements contracts.ServerController. The start counts as user interaction.
func (d *Daemon) Start(ctx context.Context, id string) (domain.ServerStatus, error) {
	srv, ok := d.Server(id)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", apperrors.ErrServerNotFound, id)
	}

	srv.Start(ctx, server.StartOptions{IsFromInteraction: true})
	return d.statusOf(srv), nil
}

// Stop implements contracts.ServerController.
func (d *Daemon) Stop(ctx context.Context, id string) (domain.ServerStatus, error) {
	srv, ok := d.Server(id)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: '%s'", apperrors.ErrServerNotFound, id)
	}

	if err := srv.Stop(ctx); err != nil {
		return domain.ServerStatus{}, fmt.Errorf("error stopping server '%s': %w", id, err)
	}
	return d.statusOf(srv), nil
}

// NeedsAttention returns the servers that failed to start, or that are trusted but have nothing fresh to publish.
func (d *Daemon) NeedsAttention() []domain.ServerStatus {
	return slices.DeleteFunc(d.List(), func(s domain.ServerStatus) bool { return !s.NeedsAttention })
}

func (d *Daemon) statusOf(srv *server.Server) domain.ServerStatus {
	def := srv.Definition()
	col := srv.Collection()
	st := srv.ConnectionState().Get()
	cs := srv.CacheState().Get()

	out := domain.ServerStatus{
		ID:           srv.ID(),
		Label:        def.DisplayName(),
		CollectionID: col.ID,
		Status:       st.Status,
		CacheState:   cs,
		Message:      st.Message,
		Code:         st.Code,
		Waiting:      d.sync.Waiting(srv.ID()),
		Tools:        len(srv.Tools().Get()),
		Prompts:      len(srv.Prompts().Get()),
	}
	out.NeedsAttention = needsAttention(st, cs, d.trust.Trusted(context.Background(), col, false))

	if rec, err := d.status.Get(srv.ID()); err == nil {
		out.LastChanged = rec.LastChanged
		out.LastRunning = rec.LastRunning
	}

	return out
}

func needsAttention(st *connection.State, cs server.CacheState, trusted bool) bool {
	if st.Status == transport.StatusError {
		return true
	}
	return trusted && (cs == server.CacheStateOutdated || cs == server.CacheStateUnknown)
}

// scopeOf maps a collection to the cache that holds its metadata. Remote collections share the workspace cache.
func scopeOf(col config.Collection) cache.Scope {
	if col.Scope == config.ScopeUser {
		return cache.ScopeUser
	}
	return cache.ScopeWorkspace
}

// restorable strips col down to what is needed to publish cached metadata before the collection is loaded again.
// Launch parameters are left out so secrets never reach the cache. nonceOf supplies the effective nonce.
func restorable(col config.Collection, nonceOf func(config.ServerDefinition) string) config.Collection {
	out := config.Collection{ID: col.ID, Label: col.Label, Scope: col.Scope, Trusted: col.Trusted}
	for _, def := range col.Servers {
		out.Servers = append(out.Servers, config.ServerDefinition{
			ID:    def.ID,
			Label: def.Label,
			Type:  def.Type,
			Nonce: nonceOf(def),
		})
	}
	return out
}

// IsValidAddr returns an error if the address is not a valid "host:port" string.
func IsValidAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	if port == "" {
		return fmt.Errorf("address missing port")
	}

	// Try parsing port as a number
	if _, err := strconv.Atoi(port); err != nil {
		// Try looking up the named port
		if _, err := net.LookupPort("tcp", port); err != nil {
			return fmt.Errorf("invalid address port: %s", port)
		}
	}

	_ = host // it's ok to accept an empty host (listens on all interfaces)

	return nil
}
