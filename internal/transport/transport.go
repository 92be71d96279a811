// Package transport defines the contract between a connection and the channel to one server,
// and provides the channel implementations backed by mcp-go clients.
package transport

import (
	"context"

	"github.com/mozilla-ai/mcphost/internal/reactive"
)

// Status is the lifecycle stage of a channel or connection.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorCode classifies a failed start so callers can offer a corrective action.
type ErrorCode string

const (
	ErrorCodeNone            ErrorCode = ""
	ErrorCodeGeneric         ErrorCode = "generic"
	ErrorCodeCommandNotFound ErrorCode = "command_not_found"
)

// ChannelState is one observation of a channel's lifecycle.
type ChannelState struct {
	Status      Status
	Message     string
	Code        ErrorCode
	ShouldRetry bool
}

// Transport produces channels to one server.
type Transport interface {
	// CanStart reports whether Start has what it needs to attempt a launch.
	CanStart() bool

	// Start launches or dials the server. It fails if CanStart is false.
	Start(ctx context.Context) (Channel, error)
}

// Channel is one launched or dialled server instance.
type Channel interface {
	// State is the channel's lifecycle. Running means the transport is connected and ready for the handshake.
	State() reactive.Observable[ChannelState]

	// Initialize performs the capability handshake and returns the typed request surface.
	Initialize(ctx context.Context) (Handler, error)

	// Stop tears the channel down. The state is Stopped once it returns.
	Stop(ctx context.Context) error
}

// Handler is the typed request surface of an initialized server.
// List operations are paginated; pass the previous page's NextCursor to continue.
type Handler interface {
	Capabilities() Capabilities
	ServerInfo() Implementation
	Instructions() string

	Ping(ctx context.Context) error

	ListTools(ctx context.Context, cursor string) (Page[Tool], error)
	ListPrompts(ctx context.Context, cursor string) (Page[Prompt], error)
	ListResources(ctx context.Context, cursor string) (Page[Resource], error)
	ListResourceTemplates(ctx context.Context, cursor string) (Page[ResourceTemplate], error)

	// CallTool invokes a tool. A non-empty progressToken asks the server for progress notifications,
	// delivered to listeners registered with OnProgress.
	CallTool(ctx context.Context, name string, args map[string]any, progressToken string) (*ToolResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error)
	ReadResource(ctx context.Context, uri string) ([]ResourceContents, error)
	Complete(ctx context.Context, ref CompletionRef, argument string, value string) (*Completion, error)

	Subscribe(ctx context.Context, uri string) error
	Unsubscribe(ctx context.Context, uri string) error

	OnDidUpdateResource(fn func(uri string)) (dispose func())
	OnDidChangeToolList(fn func()) (dispose func())
	OnDidChangePromptList(fn func()) (dispose func())
	OnDidChangeResourceList(fn func()) (dispose func())
	OnProgress(token string, fn func(Progress)) (dispose func())
}

// ListAll drains a paginated list operation.
func ListAll[T any](ctx context.Context, list func(ctx context.Context, cursor string) (Page[T], error)) ([]T, error) {
	var all []T
	cursor := ""
	for {
		page, err := list(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
