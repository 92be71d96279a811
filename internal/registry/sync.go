package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/config"
	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/server"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// Server is what the sync service needs from a server.
type Server interface {
	ID() string
	Definition() config.ServerDefinition
	Collection() config.Collection
	Tools() reactive.Observable[[]server.Tool]
	Prompts() reactive.Observable[[]server.Prompt]
	CallTool(
		ctx context.Context,
		name string,
		args map[string]any,
		onProgress func(transport.Progress),
	) (*transport.ToolResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*transport.PromptResult, error)
}

// SyncService keeps the registry in step with the tools and prompts each added server publishes.
// Unchanged entries stay registered, changed entries are removed and registered again, and entries a server no
// longer publishes are removed. An identifier still held by another server is registered once that server lets go
// of it.
// NewSyncService should be used to create instances of SyncService.
type SyncService struct {
	logger hclog.Logger

	mu      sync.Mutex
	servers map[string]*tracked
	tools   *ledger[Tool]
	prompts *ledger[Prompt]
}

type tracked struct {
	srv     Server
	dispose []func()
}

// NewSyncService returns a sync service that registers into reg.
func NewSyncService(logger hclog.Logger, reg *Registry) (*SyncService, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	return &SyncService{
		logger:  logger.Named("sync"),
		servers: map[string]*tracked{},
		tools: &ledger[Tool]{
			kind:     "tool",
			register: reg.RegisterTool,
			conflict: apperrors.ErrToolAlreadyRegistered,
			id:       func(t Tool) string { return t.ID },
			same: func(a, b Tool) bool {
				return a.Source == b.Source && a.ReferenceName == b.ReferenceName && reflect.DeepEqual(a.Definition, b.Definition)
			},
			servers: map[string]*holdings[Tool]{},
		},
		prompts: &ledger[Prompt]{
			kind:     "prompt",
			register: reg.RegisterPrompt,
			conflict: apperrors.ErrPromptAlreadyRegistered,
			id:       func(p Prompt) string { return p.ID },
			same: func(a, b Prompt) bool {
				return a.Source == b.Source && a.ReferenceName == b.ReferenceName && reflect.DeepEqual(a.Definition, b.Definition)
			},
			servers: map[string]*holdings[Prompt]{},
		},
	}, nil
}

// Add registers what srv publishes now and follows its changes until Remove.
func (s *SyncService) Add(srv Server) error {
	if srv == nil {
		return fmt.Errorf("server cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := srv.ID()
	if _, exists := s.servers[id]; exists {
		return fmt.Errorf("server '%s' is already synced", id)
	}

	t := &tracked{srv: srv}
	s.servers[id] = t
	t.dispose = append(t.dispose,
		srv.Tools().Subscribe(func([]server.Tool) { s.syncTools(t) }),
		srv.Prompts().Subscribe(func([]server.Prompt) { s.syncPrompts(t) }),
	)

	s.tools.sync(s.logger, id, toolsOf(srv))
	s.prompts.sync(s.logger, id, promptsOf(srv))
	return nil
}

// Remove deregisters everything the server identified by id contributed and stops following it.
func (s *SyncService) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(id)
}

func (s *SyncService) removeLocked(id string) {
	t, ok := s.servers[id]
	if !ok {
		return
	}
	for _, dispose := range t.dispose {
		dispose()
	}
	delete(s.servers, id)

	s.tools.remove(s.logger, id)
	s.prompts.remove(s.logger, id)
}

// Close removes every server.
func (s *SyncService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range slices.Sorted(maps.Keys(s.servers)) {
		s.removeLocked(id)
	}
}

// Waiting returns the identifiers the server identified by id publishes but cannot register yet, sorted.
func (s *SyncService) Waiting(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(slices.Values(append(s.tools.waitingFor(id), s.prompts.waitingFor(id)...)))
}

// Notifications from different goroutines may arrive out of order, so syncs read the current list under the lock.
func (s *SyncService) syncTools(t *tracked) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.servers[t.srv.ID()] != t {
		return
	}
	s.tools.sync(s.logger, t.srv.ID(), toolsOf(t.srv))
}

func (s *SyncService) syncPrompts(t *tracked) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.servers[t.srv.ID()] != t {
		return
	}
	s.prompts.sync(s.logger, t.srv.ID(), promptsOf(t.srv))
}

func sourceOf(srv Server) Source {
	return Source{
		CollectionID: srv.Collection().ID,
		DefinitionID: srv.ID(),
		Label:        srv.Definition().DisplayName(),
	}
}

func toolsOf(srv Server) []Tool {
	src := sourceOf(srv)
	published := srv.Tools().Get()

	out := make([]Tool, 0, len(published))
	for _, t := range published {
		name := t.Definition.Name
		out = append(out, Tool{
			ID:            t.ID,
			ReferenceName: t.ReferenceName,
			Source:        src,
			Definition:    t.Definition,
			Call: func(ctx context.Context, args map[string]any, onProgress func(transport.Progress)) (*transport.ToolResult, error) {
				return srv.CallTool(ctx, name, args, onProgress)
			},
		})
	}
	return out
}

func promptsOf(srv Server) []Prompt {
	src := sourceOf(srv)
	published := srv.Prompts().Get()

	out := make([]Prompt, 0, len(published))
	for _, p := range published {
		name := p.Definition.Name
		out = append(out, Prompt{
			ID:            p.ID,
			ReferenceName: p.ReferenceName,
			Source:        src,
			Definition:    p.Definition,
			Get: func(ctx context.Context, args map[string]string) (*transport.PromptResult, error) {
				return srv.GetPrompt(ctx, name, args)
			},
		})
	}
	return out
}

// ledger tracks, per server, the registrations of one kind it holds and the ones waiting for their identifier.
type ledger[T any] struct {
	kind     string
	register func(T) (func(), error)
	conflict error
	id       func(T) string
	same     func(a, b T) bool
	servers  map[string]*holdings[T]
}

type holdings[T any] struct {
	held    map[string]holding[T]
	waiting map[string]T
}

type holding[T any] struct {
	item    T
	dispose func()
}

func (l *ledger[T]) holdingsFor(serverID string) *holdings[T] {
	h, ok := l.servers[serverID]
	if !ok {
		h = &holdings[T]{held: map[string]holding[T]{}, waiting: map[string]T{}}
		l.servers[serverID] = h
	}
	return h
}

// sync makes serverID hold exactly want. Registrations that must be replaced are removed before any are added.
func (l *ledger[T]) sync(logger hclog.Logger, serverID string, want []T) {
	h := l.holdingsFor(serverID)

	wanted := make(map[string]T, len(want))
	for _, w := range want {
		wanted[l.id(w)] = w
	}

	var freed []string
	for id, cur := range h.held {
		if w, ok := wanted[id]; ok && l.same(cur.item, w) {
			continue
		}
		cur.dispose()
		delete(h.held, id)
		freed = append(freed, id)
	}

	clear(h.waiting)
	for _, id := range slices.Sorted(maps.Keys(wanted)) {
		if _, ok := h.held[id]; ok {
			continue
		}
		l.add(logger, serverID, h, wanted[id])
	}

	for _, id := range freed {
		if _, ok := h.held[id]; !ok {
			l.handOff(logger, id)
		}
	}
}

func (l *ledger[T]) remove(logger hclog.Logger, serverID string) {
	h, ok := l.servers[serverID]
	if !ok {
		return
	}
	delete(l.servers, serverID)

	freed := slices.Sorted(maps.Keys(h.held))
	for _, id := range freed {
		h.held[id].dispose()
	}
	for _, id := range freed {
		l.handOff(logger, id)
	}
}

// add registers item for serverID, or parks it when another server still holds its identifier.
func (l *ledger[T]) add(logger hclog.Logger, serverID string, h *holdings[T], item T) bool {
	id := l.id(item)

	dispose, err := l.register(item)
	if err != nil {
		if errors.Is(err, l.conflict) {
			logger.Debug("Identifier is held by another server, waiting for it", "kind", l.kind, "id", id, "server", serverID)
			h.waiting[id] = item
			return false
		}
		logger.Warn("Failed to register", "kind", l.kind, "id", id, "server", serverID, "error", err)
		return false
	}

	delete(h.waiting, id)
	h.held[id] = holding[T]{item: item, dispose: dispose}
	return true
}

// handOff gives a freed identifier to the first server, by ID, waiting for it.
func (l *ledger[T]) handOff(logger hclog.Logger, id string) {
	for _, serverID := range slices.Sorted(maps.Keys(l.servers)) {
		h := l.servers[serverID]
		item, ok := h.waiting[id]
		if !ok {
			continue
		}
		if l.add(logger, serverID, h, item) {
			logger.Debug("Registered after hand-off", "kind", l.kind, "id", id, "server", serverID)
			return
		}
	}
}

func (l *ledger[T]) waitingFor(serverID string) []string {
	h, ok := l.servers[serverID]
	if !ok {
		return nil
	}
	return slices.Collect(maps.Keys(h.waiting))
}
