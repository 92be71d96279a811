package daemon

import (
	"fmt"
	"time"

	"github.com/mozilla-ai/mcphost/internal/server"
	"github.com/mozilla-ai/mcphost/internal/telemetry"
)

// Options contains optional configuration for the daemon.
// NewOptions should be used to create instances of Options.
type Options struct {
	// APIOptions contains functional options for the API server.
	APIOptions []APIOption

	// InitTimeout specifies how long to wait for the initialize handshake with a server.
	InitTimeout time.Duration

	// PingInterval specifies how often running servers are pinged to detect lost connections.
	PingInterval time.Duration

	// PingTimeout specifies the maximum time to wait for a ping response.
	PingTimeout time.Duration

	// ShutdownTimeout specifies how long to wait for servers to stop on shutdown.
	ShutdownTimeout time.Duration

	// SaveInterval specifies how often dirty metadata caches are persisted.
	SaveInterval time.Duration

	// DevMode restarts running servers when files matching their dev watch globs change.
	DevMode bool

	// WatchDebounce coalesces bursts of file changes into one restart or reload.
	WatchDebounce time.Duration

	// Telemetry records metrics and spans for every managed server.
	Telemetry *telemetry.Telemetry

	// TransportFactory builds server transports. When nil, mcp-go backed transports are built from the timeouts
	// above.
	TransportFactory server.TransportFactory
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
// Starts with default values, then applies options in order with later options overriding earlier ones.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithAPIOptions configures API server options.
// Replaces all previous API configuration including CORS settings.
func WithAPIOptions(apiOpts ...APIOption) Option {
	return func(o *Options) error {
		o.APIOptions = apiOpts
		return nil
	}
}

// WithMCPServerInitTimeout configures how long to wait for MCP servers to initialize.
func WithMCPServerInitTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("init timeout must be positive, got %v", timeout)
		}
		o.InitTimeout = timeout
		return nil
	}
}

// WithMCPServerPingInterval configures how often to ping running MCP servers.
func WithMCPServerPingInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("ping interval must be positive, got %v", interval)
		}
		o.PingInterval = interval
		return nil
	}
}

// WithMCPServerPingTimeout configures maximum time to wait for MCP server ping responses.
func WithMCPServerPingTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("ping timeout must be positive, got %v", timeout)
		}
		o.PingTimeout = timeout
		return nil
	}
}

// WithMCPServerShutdownTimeout configures how long to wait for MCP servers to shut down.
func WithMCPServerShutdownTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("server shutdown timeout must be positive, got %v", timeout)
		}
		o.ShutdownTimeout = timeout
		return nil
	}
}

// WithCacheSaveInterval configures how often dirty caches are written to their store.
func WithCacheSaveInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("cache save interval must be positive, got %v", interval)
		}
		o.SaveInterval = interval
		return nil
	}
}

// WithDevMode enables restarting servers when their watched files change.
func WithDevMode(enabled bool) Option {
	return func(o *Options) error {
		o.DevMode = enabled
		return nil
	}
}

// WithWatchDebounce configures how long file changes settle before acting on them.
func WithWatchDebounce(d time.Duration) Option {
	return func(o *Options) error {
		if d < 0 {
			return fmt.Errorf("watch debounce cannot be negative, got %v", d)
		}
		o.WatchDebounce = d
		return nil
	}
}

// WithTelemetry records metrics and spans through t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Options) error {
		if t == nil {
			return fmt.Errorf("telemetry cannot be nil")
		}
		o.Telemetry = t
		return nil
	}
}

// WithTransportFactory replaces how server transports are built.
func WithTransportFactory(f server.TransportFactory) Option {
	return func(o *Options) error {
		if f == nil {
			return fmt.Errorf("transport factory cannot be nil")
		}
		o.TransportFactory = f
		return nil
	}
}

// DefaultClientInitTimeout is the default time to wait for MCP server initialization.
func DefaultClientInitTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultPingInterval is the default interval between pings of a running server.
func DefaultPingInterval() time.Duration {
	return 10 * time.Second
}

// DefaultPingTimeout is the default timeout for ping responses.
func DefaultPingTimeout() time.Duration {
	return 3 * time.Second
}

// DefaultClientShutdownTimeout is the default time to wait for MCP servers to stop.
func DefaultClientShutdownTimeout() time.Duration {
	return 5 * time.Second
}

// DefaultCacheSaveInterval is the default interval between cache writes.
func DefaultCacheSaveInterval() time.Duration {
	return 30 * time.Second
}

// DefaultWatchDebounce is the default settle time for file changes.
func DefaultWatchDebounce() time.Duration {
	return 200 * time.Millisecond
}

// defaultOptions returns Options with default values.
func defaultOptions() Options {
	return Options{
		InitTimeout:     DefaultClientInitTimeout(),
		PingInterval:    DefaultPingInterval(),
		PingTimeout:     DefaultPingTimeout(),
		ShutdownTimeout: DefaultClientShutdownTimeout(),
		SaveInterval:    DefaultCacheSaveInterval(),
		WatchDebounce:   DefaultWatchDebounce(),
		Telemetry:       telemetry.Noop(),
	}
}
