// Package trust decides whether the servers of a collection may be started.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/storage"
)

// storeKey is where decisions are persisted.
const storeKey = "trust"

// Decision is an explicit user choice about a collection.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Resolver combines explicit decisions with each collection's own default.
// Explicit decisions win. Without one, a collection's trusted flag applies, and a collection that does not
// declare it is trusted unless it is remote.
// NewResolver should be used to create instances of Resolver.
type Resolver struct {
	logger hclog.Logger
	store  storage.Store

	mu        sync.RWMutex
	decisions map[string]Decision
}

// NewResolver loads persisted decisions from store. Unreadable decisions are discarded.
func NewResolver(ctx context.Context, logger hclog.Logger, store storage.Store) (*Resolver, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	r := &Resolver{
		logger:    logger.Named("trust"),
		store:     store,
		decisions: map[string]Decision{},
	}

	data, err := store.Get(ctx, storeKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		r.logger.Warn("Failed to read trust decisions", "error", err)
	default:
		if err := json.Unmarshal(data, &r.decisions); err != nil {
			r.logger.Warn("Discarding corrupt trust decisions", "error", err)
			r.decisions = map[string]Decision{}
		}
	}

	return r, nil
}

// Trusted reports whether servers of c may start.
// interactive is accepted so callers can ask on behalf of a user; decisions are never prompted for here.
func (r *Resolver) Trusted(_ context.Context, c config.Collection, interactive bool) bool {
	r.mu.RLock()
	d, ok := r.decisions[c.ID]
	r.mu.RUnlock()

	if ok {
		return d == Allow
	}
	if c.Trusted != nil {
		return *c.Trusted
	}
	if c.Scope == config.ScopeRemote {
		if interactive {
			r.logger.Info("Remote collection needs an explicit trust decision", "collection", c.ID)
		}
		return false
	}
	return true
}

// Decide records d for a collection.
func (r *Resolver) Decide(ctx context.Context, collectionID string, d Decision) error {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return fmt.Errorf("collection id cannot be empty")
	}
	if d != Allow && d != Deny {
		return fmt.Errorf("unknown trust decision '%s'", d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.decisions[collectionID]
	r.decisions[collectionID] = d
	if err := r.saveLocked(ctx); err != nil {
		if had {
			r.decisions[collectionID] = prev
		} else {
			delete(r.decisions, collectionID)
		}
		return err
	}
	return nil
}

// Forget removes any explicit decision for a collection.
func (r *Resolver) Forget(ctx context.Context, collectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.decisions[collectionID]
	if !had {
		return nil
	}
	delete(r.decisions, collectionID)
	if err := r.saveLocked(ctx); err != nil {
		r.decisions[collectionID] = prev
		return err
	}
	return nil
}

// Decisions returns a copy of the explicit decisions keyed by collection ID.
func (r *Resolver) Decisions() map[string]Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.decisions)
}

func (r *Resolver) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(r.decisions)
	if err != nil {
		return fmt.Errorf("failed to encode trust decisions: %w", err)
	}
	if err := r.store.Set(ctx, storeKey, data); err != nil {
		return fmt.Errorf("failed to save trust decisions: %w", err)
	}
	return nil
}
