package daemon

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/cache"
	"github.com/mozilla-ai/mcphost/internal/config"
	configcontext "github.com/mozilla-ai/mcphost/internal/context"
	"github.com/mozilla-ai/mcphost/internal/server"
)

// Dependencies contains required dependencies for the Daemon.
// NewDependencies should be used to create instances of Dependencies.
type Dependencies struct {
	// APIAddr specifies the network address for the APIServer to bind (e.g., "0.0.0.0:8090").
	APIAddr string

	// Logger for daemon and subcomponent (API server) operations.
	Logger hclog.Logger

	// ConfigLoader loads the server definitions from ConfigPath, initially and whenever the file changes.
	ConfigLoader config.Loader

	// ConfigPath is the definitions file.
	ConfigPath string

	// ExecutionContext layers per-server args and env onto loaded definitions.
	ExecutionContext configcontext.Modifier

	// Caches holds the metadata cache of each scope. Both user and workspace scopes are required.
	Caches map[cache.Scope]*cache.Cache

	// Trust decides whether the servers of a collection may start.
	Trust server.Truster
}

// NewDependencies creates and validates Dependencies.
func NewDependencies(
	logger hclog.Logger,
	apiAddr string,
	loader config.Loader,
	configPath string,
	execCtx configcontext.Modifier,
	caches map[cache.Scope]*cache.Cache,
	trust server.Truster,
) (Dependencies, error) {
	deps := Dependencies{
		APIAddr:          apiAddr,
		Logger:           logger,
		ConfigLoader:     loader,
		ConfigPath:       configPath,
		ExecutionContext: execCtx,
		Caches:           caches,
		Trust:            trust,
	}

	if err := deps.Validate(); err != nil {
		return Dependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d Dependencies) Validate() error {
	if isNil(d.Logger) {
		return fmt.Errorf("logger cannot be nil")
	}

	if err := IsValidAddr(d.APIAddr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.APIAddr, err)
	}

	if isNil(d.ConfigLoader) {
		return fmt.Errorf("config loader cannot be nil")
	}

	if strings.TrimSpace(d.ConfigPath) == "" {
		return fmt.Errorf("config path cannot be empty")
	}

	if isNil(d.ExecutionContext) {
		return fmt.Errorf("execution context cannot be nil")
	}

	for _, scope := range []cache.Scope{cache.ScopeUser, cache.ScopeWorkspace} {
		if c := d.Caches[scope]; c == nil {
			return fmt.Errorf("cache for scope '%s' not found", scope)
		}
	}

	if isNil(d.Trust) {
		return fmt.Errorf("trust cannot be nil")
	}

	return nil
}

// isNil reports whether v is nil, including typed nils. Value types are never nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
