package connection

import (
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// State is an immutable snapshot of a connection's lifecycle.
// Callers compare states by pointer to tell whether they observed the same transition.
type State struct {
	Status transport.Status

	// Handler is set only when Status is Running.
	Handler transport.Handler

	// Message, Code and ShouldRetry are set only when Status is Error.
	Message     string
	Code        transport.ErrorCode
	ShouldRetry bool
}

// stopped is shared because a stopped connection carries no data.
var stopped = &State{Status: transport.StatusStopped}

// Stopped returns the stopped state.
func Stopped() *State {
	return stopped
}

func starting() *State {
	return &State{Status: transport.StatusStarting}
}

func running(h transport.Handler) *State {
	return &State{Status: transport.StatusRunning, Handler: h}
}

func failed(code transport.ErrorCode, message string, shouldRetry bool) *State {
	return &State{
		Status:      transport.StatusError,
		Message:     message,
		Code:        code,
		ShouldRetry: shouldRetry,
	}
}

// IsRunning reports whether s carries a usable handler.
func (s *State) IsRunning() bool {
	return s != nil && s.Status == transport.StatusRunning && s.Handler != nil
}

func (s *State) String() string {
	if s == nil {
		return transport.StatusStopped.String()
	}
	if s.Status == transport.StatusError {
		return s.Status.String() + ": " + s.Message
	}
	return s.Status.String()
}

// Failed returns an error state for failures detected before any connection attempt, such as a missing trust
// decision or an unusable launch configuration.
func Failed(code transport.ErrorCode, message string) *State {
	return failed(code, message, false)
}
