package resourcefs

import (
	"fmt"
	"time"
)

// Options contains optional configuration for an FS.
// NewOptions should be used to create instances of Options.
type Options struct {
	// PollInterval is how often a watched resource is re-read when its server cannot push updates.
	PollInterval time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with defaults, then applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		PollInterval: DefaultPollInterval(),
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

// WithPollInterval sets how often watched resources are polled.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", d)
		}
		o.PollInterval = d
		return nil
	}
}

// DefaultPollInterval is the default polling period for watches.
func DefaultPollInterval() time.Duration {
	return 2 * time.Second
}
