package server

import (
	"github.com/mozilla-ai/mcphost/internal/cache"
)

// CacheState classifies how fresh a server's published tools and prompts are.
type CacheState int

const (
	// CacheStateUnknown means nothing is cached and nothing is being fetched.
	CacheStateUnknown CacheState = iota

	// CacheStateCached means the cache holds data for the current definition.
	CacheStateCached

	// CacheStateOutdated means the only data available was fetched for a different definition.
	CacheStateOutdated

	// CacheStateRefreshingFromCached means a live fetch is running and cached data is published meanwhile.
	CacheStateRefreshingFromCached

	// CacheStateRefreshingFromUnknown means a live fetch is running and nothing was cached.
	CacheStateRefreshingFromUnknown

	// CacheStateLive means the published data came from the running server for the current definition.
	CacheStateLive
)

func (c CacheState) String() string {
	switch c {
	case CacheStateUnknown:
		return "unknown"
	case CacheStateCached:
		return "cached"
	case CacheStateOutdated:
		return "outdated"
	case CacheStateRefreshingFromCached:
		return "refreshing_from_cached"
	case CacheStateRefreshingFromUnknown:
		return "refreshing_from_unknown"
	case CacheStateLive:
		return "live"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c CacheState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

type fetchPhase int

const (
	fetchIdle fetchPhase = iota
	fetchRunning
	fetchFailed
	fetchSucceeded
)

// fetchState is the progress of the live fetch for the current handler.
// nonce is the definition nonce the connection was started with.
type fetchState struct {
	phase fetchPhase
	nonce string
}

// deriveCacheState computes the cache state from the current definition nonce, the cached entry (nil when absent)
// and the live fetch.
func deriveCacheState(nonce string, entry *cache.Entry, f fetchState) CacheState {
	switch f.phase {
	case fetchRunning:
		if entry == nil {
			return CacheStateRefreshingFromUnknown
		}
		return CacheStateRefreshingFromCached
	case fetchSucceeded:
		if f.nonce == nonce {
			return CacheStateLive
		}
		return CacheStateOutdated
	}

	switch {
	case entry == nil:
		return CacheStateUnknown
	case entry.Nonce == nonce:
		return CacheStateCached
	default:
		return CacheStateOutdated
	}
}
