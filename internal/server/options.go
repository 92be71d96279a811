package server

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/connection"
	"github.com/mozilla-ai/mcphost/internal/telemetry"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// TransportFactory builds the transport for one start of a definition.
type TransportFactory func(logger hclog.Logger, def config.ServerDefinition, debug bool) (transport.Transport, error)

// Truster decides whether the servers of a collection may start.
type Truster interface {
	Trusted(ctx context.Context, c config.Collection, interactive bool) bool
}

// NotifyFunc receives failed starts that a user asked for.
type NotifyFunc func(serverID string, st *connection.State)

type trustAll struct{}

func (trustAll) Trusted(context.Context, config.Collection, bool) bool { return true }

// Options contains optional configuration for a Server.
// NewOptions should be used to create instances of Options.
type Options struct {
	TransportFactory TransportFactory
	Trust            Truster
	Gate             *Gate
	Telemetry        *telemetry.Telemetry
	Notify           NotifyFunc

	// FetchTimeout bounds each live tool and prompt fetch.
	FetchTimeout time.Duration

	// RefetchInterval is the minimum spacing of fetches triggered by list-changed notifications.
	RefetchInterval time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with defaults, then applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		TransportFactory: DefaultTransportFactory(),
		Trust:            trustAll{},
		Telemetry:        telemetry.Noop(),
		Notify:           func(string, *connection.State) {},
		FetchTimeout:     DefaultFetchTimeout(),
		RefetchInterval:  DefaultRefetchInterval(),
	}

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

// WithTransportFactory replaces how transports are built.
func WithTransportFactory(f TransportFactory) Option {
	return func(o *Options) error {
		if f == nil {
			return fmt.Errorf("transport factory cannot be nil")
		}
		o.TransportFactory = f
		return nil
	}
}

// WithTrust configures the trust decision consulted before every start.
func WithTrust(t Truster) Option {
	return func(o *Options) error {
		if t == nil {
			return fmt.Errorf("truster cannot be nil")
		}
		o.Trust = t
		return nil
	}
}

// WithActivationGate holds starts back until g is opened.
func WithActivationGate(g *Gate) Option {
	return func(o *Options) error {
		o.Gate = g
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

// WithNotify reports failed interactive starts to fn.
func WithNotify(fn NotifyFunc) Option {
	return func(o *Options) error {
		if fn == nil {
			return fmt.Errorf("notify func cannot be nil")
		}
		o.Notify = fn
		return nil
	}
}

// WithFetchTimeout bounds live list fetches.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("fetch timeout must be positive, got %v", d)
		}
		o.FetchTimeout = d
		return nil
	}
}

// WithRefetchInterval spaces out fetches caused by list-changed notifications.
func WithRefetchInterval(d time.Duration) Option {
	return func(o *Options) error {
		if d < 0 {
			return fmt.Errorf("refetch interval cannot be negative, got %v", d)
		}
		o.RefetchInterval = d
		return nil
	}
}

// DefaultFetchTimeout is the default bound on a live fetch.
func DefaultFetchTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultRefetchInterval is the default spacing of notification-driven fetches.
func DefaultRefetchInterval() time.Duration {
	return 500 * time.Millisecond
}

// DefaultTransportFactory builds mcp-go backed transports configured with opts.
func DefaultTransportFactory(opts ...transport.Option) TransportFactory {
	return func(logger hclog.Logger, def config.ServerDefinition, debug bool) (transport.Transport, error) {
		spec, err := def.LaunchSpec(debug)
		if err != nil {
			return nil, err
		}
		return transport.NewMCPTransport(logger, spec, opts...)
	}
}
