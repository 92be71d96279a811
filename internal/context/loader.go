package context

import (
	"github.com/mozilla-ai/mcphost/internal/config"
)

var (
	_ Loader   = (*DefaultLoader)(nil)
	_ Modifier = (*ExecutionContextConfig)(nil)
)

type Loader interface {
	Load(path string) (Modifier, error)
}

// Modifier holds the per-server args and env kept outside the shared configuration file.
type Modifier interface {
	Get(name string) (ServerExecutionContext, bool)

	// Upsert stores ctx under ctx.Name. An empty context deletes the entry.
	Upsert(ctx ServerExecutionContext) (UpsertResult, error)

	List() []ServerExecutionContext

	// Apply returns def with the stored args appended and the stored env layered over its own.
	Apply(def config.ServerDefinition) config.ServerDefinition
}

// UpsertResult reports what Upsert did to the stored entry.
type UpsertResult string

const (
	Created UpsertResult = "created"
	Updated UpsertResult = "updated"
	Deleted UpsertResult = "deleted"
	Noop    UpsertResult = "noop"
)
