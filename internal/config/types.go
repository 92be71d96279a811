package config

import (
	"github.com/mozilla-ai/mcphost/internal/transport"
)

var (
	_ Provider = (*DefaultLoader)(nil)
	_ Modifier = (*Config)(nil)
)

type Loader interface {
	Load(path string) (Modifier, error)
}

type Initializer interface {
	Init(path string) error
}

type Provider interface {
	Initializer
	Loader
}

type Modifier interface {
	AddServer(collectionID string, def ServerDefinition) error
	RemoveServer(collectionID string, id string) error
	ListCollections() []Collection
}

type DefaultLoader struct{}

// Scope describes where a collection's definitions come from.
type Scope string

const (
	ScopeUser      Scope = "user"
	ScopeWorkspace Scope = "workspace"
	ScopeRemote    Scope = "remote"
)

// DefaultCollectionID names the collection that holds servers declared without one,
// such as the top-level "servers" object of a VS Code style JSON file.
const DefaultCollectionID = "workspace"

// format is the encoding of a config file, chosen by its extension.
type format string

const (
	formatTOML format = "toml"
	formatYAML format = "yaml"
	formatJSON format = "json"
)

// Config represents the .mcphost.toml file structure.
type Config struct {
	Daemon      *DaemonConfig `json:"daemon,omitempty" toml:"daemon,omitempty" yaml:"daemon,omitempty"`
	Collections []Collection  `json:"collections,omitempty" toml:"collections,omitempty" yaml:"collections,omitempty"`

	configFilePath string
	format         format
	// flat is set when the file declared a bare server map rather than collections.
	flat bool
}

// Collection is a named group of server definitions from one source.
type Collection struct {
	// ID is unique across all loaded collections.
	ID string `json:"id" toml:"id" yaml:"id"`

	Label string `json:"label,omitempty" toml:"label,omitempty" yaml:"label,omitempty"`

	Scope Scope `json:"scope,omitempty" toml:"scope,omitempty" yaml:"scope,omitempty"`

	// Trusted is the consent default for servers in this collection.
	// When unset, workspace and remote collections require an explicit decision and user collections are trusted.
	Trusted *bool `json:"trusted,omitempty" toml:"trusted,omitempty" yaml:"trusted,omitempty"`

	Servers []ServerDefinition `json:"servers" toml:"servers" yaml:"servers"`
}

// ServerDefinition describes how to launch or reach one server.
type ServerDefinition struct {
	// ID is unique within its collection.
	ID string `json:"id" toml:"id" yaml:"id"`

	Label string `json:"label,omitempty" toml:"label,omitempty" yaml:"label,omitempty"`

	// Type is one of stdio, sse or http. It is inferred from Command or URL when empty.
	Type transport.Kind `json:"type,omitempty" toml:"type,omitempty" yaml:"type,omitempty"`

	Command string            `json:"command,omitempty" toml:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" toml:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" toml:"env,omitempty" yaml:"env,omitempty"`

	// EnvFile is a dotenv file whose variables sit below Env. Relative paths resolve against Cwd.
	EnvFile string `json:"envFile,omitempty" toml:"env_file,omitempty" yaml:"env_file,omitempty"`
	Cwd     string `json:"cwd,omitempty" toml:"cwd,omitempty" yaml:"cwd,omitempty"`

	URL     string            `json:"url,omitempty" toml:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers,omitempty" yaml:"headers,omitempty"`

	// Roots are the directories the server is told it may see.
	Roots []string `json:"roots,omitempty" toml:"roots,omitempty" yaml:"roots,omitempty"`

	Dev *DevMode `json:"dev,omitempty" toml:"dev,omitempty" yaml:"dev,omitempty"`

	// Nonce invalidates cached metadata when it changes. Derived from the launch parameters when empty.
	Nonce string `json:"nonce,omitempty" toml:"nonce,omitempty" yaml:"nonce,omitempty"`

	AutoStart bool `json:"autoStart,omitempty" toml:"auto_start,omitempty" yaml:"auto_start,omitempty"`

	// nonceDerived is set when Nonce was computed rather than configured, so it is not written back.
	nonceDerived bool
}

// DevMode enables restart-on-change and debugger attachment for a server under development.
type DevMode struct {
	// Watch lists doublestar globs, relative to the server's working directory.
	Watch []string `json:"watch,omitempty" toml:"watch,omitempty" yaml:"watch,omitempty"`

	Debug *DebugConfig `json:"debug,omitempty" toml:"debug,omitempty" yaml:"debug,omitempty"`
}

// DebugConfig describes how to launch the server under a debugger.
type DebugConfig struct {
	// Type is node or python.
	Type string `json:"type" toml:"type" yaml:"type"`
	Port int    `json:"port,omitempty" toml:"port,omitempty" yaml:"port,omitempty"`
}

const (
	DebugTypeNode   = "node"
	DebugTypePython = "python"
)

// DefaultDebugPort is used when a debug configuration has no port.
const DefaultDebugPort = 9229

// fileLayout is what a config file may contain. Servers is the flat layout used by VS Code style mcp.json files,
// keyed by server ID, and is loaded as the default collection.
type fileLayout struct {
	Daemon      *DaemonConfig               `json:"daemon,omitempty" toml:"daemon,omitempty" yaml:"daemon,omitempty"`
	Collections []Collection                `json:"collections,omitempty" toml:"collections,omitempty" yaml:"collections,omitempty"`
	Servers     map[string]ServerDefinition `json:"servers,omitempty" toml:"servers,omitempty" yaml:"servers,omitempty"`
}
