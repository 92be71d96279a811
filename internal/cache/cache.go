// Package cache keeps the last known tools, prompts and capabilities of each server so they can be published
// before the server is started.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mozilla-ai/mcphost/internal/reactive"
	"github.com/mozilla-ai/mcphost/internal/storage"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// Scope partitions cached data.
type Scope string

const (
	ScopeUser      Scope = "user"
	ScopeWorkspace Scope = "workspace"
)

// blobVersion is bumped whenever the persisted layout changes incompatibly.
const blobVersion = 1

// Entry is what is known about one server from its last successful fetch.
// It is only valid for a definition whose nonce equals Nonce.
type Entry struct {
	Nonce        string                 `json:"nonce"`
	Tools        []transport.Tool       `json:"tools"`
	Prompts      []transport.Prompt     `json:"prompts"`
	Capabilities transport.Capabilities `json:"capabilities"`
}

type blobEntry struct {
	ID    string `json:"id"`
	Entry Entry  `json:"entry"`
}

type blob struct {
	Version int `json:"version"`
	// Entries are ordered from least to most recently used.
	Entries     []blobEntry                `json:"entries"`
	Collections map[string]json.RawMessage `json:"extensionServers,omitempty"`
}

// Cache is the metadata cache for one scope.
// NewCache should be used to create instances of Cache.
type Cache struct {
	logger hclog.Logger
	store  storage.Store
	key    string
	scope  Scope

	mu          sync.Mutex
	entries     *lru.Cache[string, Entry]
	cells       map[string]*reactive.Value[*Entry]
	collections map[string]json.RawMessage
	evicted     []string
	generation  uint64
	saved       uint64
}

// NewCache creates the cache for scope and loads its persisted state.
// Missing or unreadable state yields an empty cache.
func NewCache(ctx context.Context, logger hclog.Logger, store storage.Store, scope Scope, opts ...Option) (*Cache, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if scope != ScopeUser && scope != ScopeWorkspace {
		return nil, fmt.Errorf("unknown cache scope '%s'", scope)
	}

	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		logger:      logger.Named("cache").With("scope", scope),
		store:       store,
		key:         options.keyPrefix + string(scope),
		scope:       scope,
		cells:       map[string]*reactive.Value[*Entry]{},
		collections: map[string]json.RawMessage{},
	}

	c.entries, err = lru.NewWithEvict[string, Entry](options.size, func(id string, _ Entry) {
		// Called with c.mu held; cells are cleared once the lock is released.
		c.evicted = append(c.evicted, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	c.load(ctx)

	return c, nil
}

func (c *Cache) load(ctx context.Context) {
	data, err := c.store.Get(ctx, c.key)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		c.logger.Warn("Failed to read cache, starting empty", "error", err)
		return
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		c.logger.Warn("Cache is corrupt, starting empty", "error", err)
		return
	}
	if b.Version != blobVersion {
		c.logger.Info("Discarding cache with unsupported version", "version", b.Version)
		return
	}

	for _, e := range b.Entries {
		if e.ID == "" {
			continue
		}
		c.entries.Add(e.ID, e.Entry)
	}
	for id, raw := range b.Collections {
		c.collections[id] = raw
	}
	c.evicted = nil

	c.logger.Debug("Loaded cache", "entries", c.entries.Len(), "collections", len(c.collections))
}

// Scope returns the scope this cache holds.
func (c *Cache) Scope() Scope {
	return c.scope
}

// Get returns the entry for a server and marks it as recently used.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(id)
}

// Observe returns an observable view of the entry for a server. The value is nil while nothing is cached.
func (c *Cache) Observe(id string) reactive.Observable[*Entry] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cellLocked(id)
}

func (c *Cache) cellLocked(id string) *reactive.Value[*Entry] {
	cell, ok := c.cells[id]
	if !ok {
		var initial *Entry
		if e, found := c.entries.Peek(id); found {
			initial = &e
		}
		cell = reactive.NewValue(initial)
		c.cells[id] = cell
	}
	return cell
}

// Store records the entry for a server as part of tx, which may be nil.
func (c *Cache) Store(tx *reactive.Tx, id string, e Entry) {
	c.mu.Lock()
	c.entries.Add(id, e)
	c.generation++
	cell := c.cellLocked(id)
	evicted := c.takeEvictedLocked()
	c.mu.Unlock()

	stored := e
	cell.Set(&stored, tx)
	for _, ec := range evicted {
		ec.Set(nil, tx)
	}
}

func (c *Cache) takeEvictedLocked() []*reactive.Value[*Entry] {
	var cells []*reactive.Value[*Entry]
	for _, id := range c.evicted {
		if cell, ok := c.cells[id]; ok {
			cells = append(cells, cell)
		}
	}
	c.evicted = nil
	return cells
}

// Reset forgets every entry and collection as part of tx, which may be nil.
// Fetches already in flight still write their results afterwards.
func (c *Cache) Reset(tx *reactive.Tx) {
	c.mu.Lock()
	c.entries.Purge()
	c.evicted = nil
	c.collections = map[string]json.RawMessage{}
	c.generation++
	cells := make([]*reactive.Value[*Entry], 0, len(c.cells))
	for _, cell := range c.cells {
		cells = append(cells, cell)
	}
	c.mu.Unlock()

	c.logger.Info("Cache reset")
	for _, cell := range cells {
		cell.Set(nil, tx)
	}
}

// Len returns the number of cached servers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// IDs returns the cached server identifiers from least to most recently used.
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Collection returns the stored definition data for a collection that is only known from a previous run.
func (c *Cache) Collection(id string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.collections[id]
	return raw, ok
}

// Collections returns a copy of every stored collection.
func (c *Cache) Collections() map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]json.RawMessage, len(c.collections))
	for id, raw := range c.collections {
		out[id] = raw
	}
	return out
}

// StoreCollection records a collection's definitions so they can be published before it is rediscovered.
func (c *Cache) StoreCollection(id string, raw json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections[id] = append(json.RawMessage(nil), raw...)
	c.generation++
}

// DeleteCollection forgets a stored collection.
func (c *Cache) DeleteCollection(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.collections[id]; ok {
		delete(c.collections, id)
		c.generation++
	}
}

// Dirty reports whether there are changes that have not been saved.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != c.saved
}

// Save persists the cache when it changed since the last save.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.generation == c.saved {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation

	b := blob{Version: blobVersion, Collections: c.collections}
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if !ok {
			continue
		}
		b.Entries = append(b.Entries, blobEntry{ID: id, Entry: e})
	}
	data, err := json.Marshal(b)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	if err := c.store.Set(ctx, c.key, data); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}

	c.mu.Lock()
	if c.saved < gen {
		c.saved = gen
	}
	c.mu.Unlock()

	c.logger.Debug("Saved cache", "bytes", len(data))
	return nil
}
