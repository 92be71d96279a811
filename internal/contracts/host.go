package contracts

import (
	"context"

	"github.com/mozilla-ai/mcphost/internal/domain"
	"github.com/mozilla-ai/mcphost/internal/registry"
	"github.com/mozilla-ai/mcphost/internal/resourcefs"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// ServerController provides a way to inspect and drive the managed servers.
type ServerController interface {
	// List returns the status of every managed server, sorted by ID.
	List() []domain.ServerStatus

	// Status returns the status of a single server.
	Status(id string) (domain.ServerStatus, error)

	// Start starts a server on behalf of a user and returns the status it settled in.
	Start(ctx context.Context, id string) (domain.ServerStatus, error)

	// Stop stops a server and returns its status afterwards.
	Stop(ctx context.Context, id string) (domain.ServerStatus, error)
}

// ToolAccessor provides access to the globally registered tools.
type ToolAccessor interface {
	Tools() []registry.Tool
	CallTool(
		ctx context.Context,
		id string,
		args map[string]any,
		onProgress func(transport.Progress),
	) (*transport.ToolResult, error)
}

// PromptAccessor provides access to the globally registered prompts.
type PromptAccessor interface {
	Prompts() []registry.Prompt
	GetPrompt(ctx context.Context, id string, args map[string]string) (*transport.PromptResult, error)
}

// ResourceReader provides read access to server resources through their encoded URIs.
type ResourceReader interface {
	Stat(ctx context.Context, uri string) (resourcefs.FileInfo, error)
	ReadFile(ctx context.Context, uri string) ([]byte, error)
	ReadDir(ctx context.Context, uri string) ([]resourcefs.DirEntry, error)
}
