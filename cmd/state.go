package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/cache"
	"github.com/mozilla-ai/mcphost/internal/config"
	configcontext "github.com/mozilla-ai/mcphost/internal/context"
	"github.com/mozilla-ai/mcphost/internal/files"
	"github.com/mozilla-ai/mcphost/internal/flags"
	"github.com/mozilla-ai/mcphost/internal/storage"
	"github.com/mozilla-ai/mcphost/internal/trust"
)

// sqliteFileName is the database created in the cache directory by the sqlite backend.
const sqliteFileName = "mcphost.db"

// hostState is the persisted state shared by the daemon and the commands that inspect it offline.
type hostState struct {
	store  storage.Store
	caches map[cache.Scope]*cache.Cache
	trust  *trust.Resolver
}

// openState opens the configured store and loads the caches and trust decisions kept in it.
// A nil section selects the defaults: a file store in the user cache directory.
func openState(ctx context.Context, logger hclog.Logger, section *config.CacheConfigSection) (*hostState, error) {
	store, err := openStore(ctx, section)
	if err != nil {
		return nil, err
	}

	var opts []cache.Option
	if section != nil && section.Size != nil {
		opts = append(opts, cache.WithSize(*section.Size))
	}

	state := &hostState{
		store:  store,
		caches: make(map[cache.Scope]*cache.Cache, 2),
	}
	for _, scope := range []cache.Scope{cache.ScopeUser, cache.ScopeWorkspace} {
		c, err := cache.NewCache(ctx, logger, store, scope, opts...)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to open %s cache: %w", scope, err), store.Close())
		}
		state.caches[scope] = c
	}

	state.trust, err = trust.NewResolver(ctx, logger, store)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	return state, nil
}

// save writes every dirty cache.
func (s *hostState) save(ctx context.Context) error {
	var errs []error
	for _, c := range s.caches {
		if err := c.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *hostState) Close() error {
	return s.store.Close()
}

func openStore(ctx context.Context, section *config.CacheConfigSection) (storage.Store, error) {
	backend := storage.BackendFile
	var dir string
	if section != nil {
		if section.Backend != nil {
			backend = storage.Backend(strings.TrimSpace(*section.Backend))
		}
		if section.Dir != nil {
			dir = strings.TrimSpace(*section.Dir)
		}
	}

	if backend == storage.BackendMemory {
		return storage.NewMemoryStore(), nil
	}

	if dir == "" {
		d, err := files.UserSpecificCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate cache directory: %w", err)
		}
		dir = d
	}

	switch backend {
	case storage.BackendFile:
		return storage.NewFileStore(dir)
	case storage.BackendSQLite:
		if err := files.EnsureAtLeastSecureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		return storage.NewSQLiteStore(ctx, filepath.Join(dir, sqliteFileName))
	default:
		return nil, config.NewErrInvalidValue("cache.backend", string(backend))
	}
}

// cacheSection returns the cache settings of a loaded configuration, if any.
func cacheSection(mod config.Modifier) *config.CacheConfigSection {
	if d := daemonSection(mod); d != nil {
		return d.Cache
	}
	return nil
}

func daemonSection(mod config.Modifier) *config.DaemonConfig {
	cfg, ok := mod.(*config.Config)
	if !ok || cfg == nil {
		return nil
	}
	return cfg.Daemon
}

// loadExecutionContext loads the execution context file named by the runtime file flag, or the user default.
func loadExecutionContext(loader configcontext.Loader) (configcontext.Modifier, error) {
	path := flags.RuntimeFile
	if path == "" {
		p, err := configcontext.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to locate execution context file: %w", err)
		}
		path = p
	}
	return loader.Load(path)
}

// scopeOf maps a collection to the cache that holds its metadata.
func scopeOf(col config.Collection) cache.Scope {
	if col.Scope == config.ScopeUser {
		return cache.ScopeUser
	}
	return cache.ScopeWorkspace
}

func runtimeFileDisplay() string {
	if flags.RuntimeFile != "" {
		return flags.RuntimeFile
	}
	if p, err := configcontext.DefaultPath(); err == nil {
		return p
	}
	return "(default)"
}
