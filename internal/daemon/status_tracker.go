package daemon

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// transition records when a server's connection status last moved.
type transition struct {
	Status      transport.Status
	LastChanged *time.Time
	LastRunning *time.Time
}

// StatusTracker remembers connection status transitions of managed servers.
// NewStatusTracker should be used to create instances of StatusTracker.
type StatusTracker struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[string]transition
}

// NewStatusTracker returns an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		now:     func() time.Time { return time.Now().UTC() },
		records: map[string]transition{},
	}
}

// Track starts tracking id as stopped. Tracking a tracked server does nothing.
func (t *StatusTracker) Track(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[id]; !ok {
		t.records[id] = transition{Status: transport.StatusStopped}
	}
}

// Forget stops tracking id.
func (t *StatusTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, id)
}

// Get returns the transition recorded for id.
func (t *StatusTracker) Get(id string) (transition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return transition{}, fmt.Errorf("%w: status of '%s' is not tracked", apperrors.ErrServerNotFound, id)
	}
	return rec, nil
}

// Update records status for id. The change time only moves when status differs from the recorded one,
// and LastRunning only moves when status is running.
func (t *StatusTracker) Update(id string, status transport.Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.records[id]
	if !ok {
		return fmt.Errorf("%w: status of '%s' is not tracked", apperrors.ErrServerNotFound, id)
	}
	if prev.Status == status {
		return nil
	}

	now := t.now()
	next := transition{Status: status, LastChanged: &now, LastRunning: prev.LastRunning}
	if status == transport.StatusRunning {
		next.LastRunning = &now
	}
	t.records[id] = next

	return nil
}
