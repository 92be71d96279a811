// Package registry holds the tools and prompts every server contributes under their global identifiers, and keeps
// them in step with the servers that publish them.
package registry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

const registryName = "registry"

// Source tags a registration with the collection and definition it came from.
type Source struct {
	CollectionID string `json:"collectionId"`
	DefinitionID string `json:"definitionId"`

	// Label is the server's display name.
	Label string `json:"label"`
}

// String returns the collection and definition identifiers joined by a slash.
func (s Source) String() string {
	return s.CollectionID + "/" + s.DefinitionID
}

// ToolFunc runs a registered tool.
type ToolFunc func(ctx context.Context, args map[string]any, onProgress func(transport.Progress)) (*transport.ToolResult, error)

// PromptFunc renders a registered prompt.
type PromptFunc func(ctx context.Context, args map[string]string) (*transport.PromptResult, error)

// Tool is a registered tool. The descriptor and its implementation are registered and removed together.
type Tool struct {
	ID            string         `json:"id"`
	ReferenceName string         `json:"referenceName"`
	Source        Source         `json:"source"`
	Definition    transport.Tool `json:"definition"`
	Call          ToolFunc       `json:"-"`
}

// Prompt is a registered prompt.
type Prompt struct {
	ID            string           `json:"id"`
	ReferenceName string           `json:"referenceName"`
	Source        Source           `json:"source"`
	Definition    transport.Prompt `json:"definition"`
	Get           PromptFunc       `json:"-"`
}

// Registry is the global table of tools and prompts.
// It is safe for concurrent use by multiple goroutines.
type Registry struct {
	logger  hclog.Logger
	mu      sync.RWMutex
	tools   map[string]*Tool
	prompts map[string]*Prompt
}

// NewRegistry returns an empty registry.
func NewRegistry(logger hclog.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Registry{
		logger:  logger.Named(registryName),
		tools:   map[string]*Tool{},
		prompts: map[string]*Prompt{},
	}, nil
}

// RegisterTool adds t under t.ID and returns the function that removes it again.
// The removal only ever removes this registration, so a stale dispose cannot remove a later one with the same ID.
func (r *Registry) RegisterTool(t Tool) (func(), error) {
	if t.ID == "" {
		return nil, fmt.Errorf("%w: tool id cannot be empty", apperrors.ErrBadRequest)
	}
	if t.Call == nil {
		return nil, fmt.Errorf("%w: tool '%s' has no implementation", apperrors.ErrBadRequest, t.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, exists := r.tools[t.ID]; exists {
		return nil, fmt.Errorf("%w: '%s' is held by '%s'", apperrors.ErrToolAlreadyRegistered, t.ID, cur.Source)
	}

	reg := &t
	r.tools[t.ID] = reg
	r.logger.Trace("Registered tool", "tool", t.ID, "source", t.Source.String())

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.tools[t.ID] == reg {
			delete(r.tools, t.ID)
			r.logger.Trace("Deregistered tool", "tool", t.ID, "source", t.Source.String())
		}
	}, nil
}

// RegisterPrompt adds p under p.ID and returns the function that removes it again.
func (r *Registry) RegisterPrompt(p Prompt) (func(), error) {
	if p.ID == "" {
		return nil, fmt.Errorf("%w: prompt id cannot be empty", apperrors.ErrBadRequest)
	}
	if p.Get == nil {
		return nil, fmt.Errorf("%w: prompt '%s' has no implementation", apperrors.ErrBadRequest, p.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, exists := r.prompts[p.ID]; exists {
		return nil, fmt.Errorf("%w: '%s' is held by '%s'", apperrors.ErrPromptAlreadyRegistered, p.ID, cur.Source)
	}

	reg := &p
	r.prompts[p.ID] = reg

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.prompts[p.ID] == reg {
			delete(r.prompts, p.ID)
		}
	}, nil
}

// Tool returns the tool registered under id.
func (r *Registry) Tool(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[id]
	if !ok {
		return Tool{}, false
	}
	return *t, true
}

// Tools returns every registered tool sorted by ID.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sorted(r.tools, func(t *Tool) string { return t.ID })
}

// Prompt returns the prompt registered under id.
func (r *Registry) Prompt(id string) (Prompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prompts[id]
	if !ok {
		return Prompt{}, false
	}
	return *p, true
}

// Prompts returns every registered prompt sorted by ID.
func (r *Registry) Prompts() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sorted(r.prompts, func(p *Prompt) string { return p.ID })
}

// CallTool runs the tool registered under id.
func (r *Registry) CallTool(
	ctx context.Context,
	id string,
	args map[string]any,
	onProgress func(transport.Progress),
) (*transport.ToolResult, error) {
	t, ok := r.Tool(id)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", apperrors.ErrToolNotFound, id)
	}
	return t.Call(ctx, args, onProgress)
}

// GetPrompt renders the prompt registered under id.
func (r *Registry) GetPrompt(ctx context.Context, id string, args map[string]string) (*transport.PromptResult, error) {
	p, ok := r.Prompt(id)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", apperrors.ErrPromptNotFound, id)
	}
	return p.Get(ctx, args)
}

func sorted[T any](m map[string]*T, key func(*T) string) []T {
	values := slices.SortedFunc(maps.Values(m), func(a, b *T) int { return strings.Compare(key(a), key(b)) })
	out := make([]T, 0, len(values))
	for _, v := range values {
		out = append(out, *v)
	}
	return out
}
