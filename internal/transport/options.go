package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/client"
)

// Dialer creates a started mcp-go client for a launch spec, plus the server's stderr when it has one.
// The returned client must be ready for Initialize.
type Dialer func(ctx context.Context, spec LaunchSpec) (client.MCPClient, io.Reader, error)

// Options contains optional configuration for mcp-go backed transports.
// NewOptions should be used to create instances of Options.
type Options struct {
	// ClientInfo is sent to servers during initialization.
	ClientInfo Implementation

	// InitTimeout bounds the initialization handshake.
	InitTimeout time.Duration

	// PingInterval is how often a running channel pings its server to detect a lost connection.
	PingInterval time.Duration

	// PingTimeout bounds each ping.
	PingTimeout time.Duration

	// Dialer builds the underlying client. Defaults to dialing over stdio, SSE or streamable HTTP.
	Dialer Dialer
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
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

// WithClientInfo configures the client name and version sent during initialization.
func WithClientInfo(name string, version string) Option {
	return func(o *Options) error {
		if name == "" {
			return fmt.Errorf("client name cannot be empty")
		}
		o.ClientInfo = Implementation{Name: name, Version: version}
		return nil
	}
}

// WithInitTimeout configures how long to wait for a server to complete the handshake.
func WithInitTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("init timeout must be positive, got %v", timeout)
		}
		o.InitTimeout = timeout
		return nil
	}
}

// WithPing configures the connection-lost monitor.
func WithPing(interval time.Duration, timeout time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("ping interval must be positive, got %v", interval)
		}
		if timeout <= 0 {
			return fmt.Errorf("ping timeout must be positive, got %v", timeout)
		}
		o.PingInterval = interval
		o.PingTimeout = timeout
		return nil
	}
}

// WithDialer replaces how clients are created.
func WithDialer(d Dialer) Option {
	return func(o *Options) error {
		if d == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		o.Dialer = d
		return nil
	}
}

// DefaultInitTimeout is the default time to wait for server initialization.
func DefaultInitTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultPingInterval is the default interval between liveness pings.
func DefaultPingInterval() time.Duration {
	return 10 * time.Second
}

// DefaultPingTimeout is the default time to wait for a ping response.
func DefaultPingTimeout() time.Duration {
	return 3 * time.Second
}

func defaultOptions() Options {
	return Options{
		ClientInfo:   Implementation{Name: "mcphost", Version: "dev"},
		InitTimeout:  DefaultInitTimeout(),
		PingInterval: DefaultPingInterval(),
		PingTimeout:  DefaultPingTimeout(),
		Dialer:       Dial,
	}
}
