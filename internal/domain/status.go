package domain

import (
	"time"

	"github.com/mozilla-ai/mcphost/internal/server"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// ServerStatus is a point-in-time view of one managed server.
type ServerStatus struct {
	ID           string
	Label        string
	CollectionID string
	Status       transport.Status
	CacheState   server.CacheState

	// Message and Code describe the last failure while Status is Error.
	Message string
	Code    transport.ErrorCode

	// NeedsAttention is set for servers that failed, or that are trusted but have nothing fresh to publish.
	NeedsAttention bool

	// Waiting lists published identifiers another server still holds.
	Waiting []string

	Tools   int
	Prompts int

	// LastChanged is when the connection status last moved, nil until it first does.
	LastChanged *time.Time

	// LastRunning is when the server last reached the running status.
	LastRunning *time.Time
}
