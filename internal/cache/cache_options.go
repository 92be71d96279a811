package cache

import (
	"fmt"
	"strings"
)

// DefaultSize is the default number of server entries kept per scope.
const DefaultSize = 128

// Option defines a functional option for configuring Cache.
type Option func(*Options) error

// Options contains optional configuration for the cache.
type Options struct {
	// size bounds the number of server entries kept.
	size int

	// keyPrefix is prepended to the scope to form the storage key.
	keyPrefix string
}

// NewOptions creates Options with optional configurations applied.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{
		size:      DefaultSize,
		keyPrefix: "mcp.metadataCache.",
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return Options{}, err
		}
	}

	return o, nil
}

// WithSize sets how many server entries are retained before the least recently used is evicted.
func WithSize(size int) Option {
	return func(o *Options) error {
		if size <= 0 {
			return fmt.Errorf("cache size must be positive, got %d", size)
		}
		o.size = size
		return nil
	}
}

// WithKeyPrefix sets the storage key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Options) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return fmt.Errorf("cache key prefix cannot be empty")
		}
		o.keyPrefix = prefix
		return nil
	}
}
