// Package context holds per-server execution context, such as secrets, that is kept out of the shared
// project configuration and layered onto server definitions at launch.
package context

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/files"
	"github.com/mozilla-ai/mcphost/internal/perms"
)

// ServerExecutionContext stores execution context data for an MCP server.
type ServerExecutionContext struct {
	Name string            `toml:"-"`
	Args []string          `toml:"args,omitempty"`
	Env  map[string]string `toml:"env,omitempty"`
}

func (s *ServerExecutionContext) Equals(b ServerExecutionContext) bool {
	if s.Name != b.Name {
		return false
	}

	if !slices.Equal(s.Args, b.Args) {
		return false
	}

	return maps.Equal(s.Env, b.Env)
}

func (s *ServerExecutionContext) IsEmpty() bool {
	return len(s.Args) == 0 && len(s.Env) == 0
}

type DefaultLoader struct{}

// Load reads the execution context file at path. A missing file yields an empty configuration that is created on
// the first Upsert.
func (d *DefaultLoader) Load(path string) (Modifier, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	cfg, err := loadExecutionContextConfig(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load execution context config: %w", err)
		}

		cfg = NewExecutionContextConfig(path)
	}

	return cfg, nil
}

// ExecutionContextConfig stores execution context data for all configured MCP servers, keyed by server ID.
type ExecutionContextConfig struct {
	Servers  map[string]ServerExecutionContext `toml:"servers"`
	filePath string                            `toml:"-"`
}

// NewExecutionContextConfig returns a newly initialized ExecutionContextConfig.
func NewExecutionContextConfig(path string) *ExecutionContextConfig {
	return &ExecutionContextConfig{
		Servers:  map[string]ServerExecutionContext{},
		filePath: strings.TrimSpace(path),
	}
}

func (c *ExecutionContextConfig) List() []ServerExecutionContext {
	servers := slices.Collect(maps.Values(c.Servers))

	slices.SortFunc(servers, func(a, b ServerExecutionContext) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	return servers
}

func (c *ExecutionContextConfig) Get(name string) (ServerExecutionContext, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ServerExecutionContext{}, false
	}

	if srv, ok := c.Servers[name]; ok {
		return ServerExecutionContext{
			Name: name,
			Args: slices.Clone(srv.Args),
			Env:  maps.Clone(srv.Env),
		}, true
	}

	return ServerExecutionContext{}, false
}

// Upsert updates the execution context for the given server name.
// If the context is empty and does not exist in config, it does nothing.
// If the context is empty and previously existed in config, it deletes the entry.
// Returns the operation performed and writes changes to disk if applicable.
func (c *ExecutionContextConfig) Upsert(ec ServerExecutionContext) (UpsertResult, error) {
	if strings.TrimSpace(ec.Name) == "" {
		return Noop, fmt.Errorf("server name cannot be empty")
	}

	if c.Servers == nil {
		c.Servers = map[string]ServerExecutionContext{}
	}

	current, exists := c.Servers[ec.Name]
	var op UpsertResult

	switch {
	case !exists && ec.IsEmpty():
		return Noop, nil
	case exists && current.Equals(ec):
		return Noop, nil
	case ec.IsEmpty():
		delete(c.Servers, ec.Name)
		op = Deleted
	case exists:
		op = Updated
		c.Servers[ec.Name] = ec
	default:
		op = Created
		c.Servers[ec.Name] = ec
	}

	if err := c.SaveConfig(); err != nil {
		return Noop, fmt.Errorf("error saving execution context config: %w", err)
	}

	return op, nil
}

// Apply layers the execution context for def's server onto def.
// Args are appended, env values override the definition's and may reference host variables as ${NAME}.
func (c *ExecutionContextConfig) Apply(def config.ServerDefinition) config.ServerDefinition {
	ec, ok := c.Get(def.ID)
	if !ok || ec.IsEmpty() {
		return def
	}

	args := make([]string, len(ec.Args))
	for i, a := range ec.Args {
		args[i] = os.ExpandEnv(a)
	}

	env := make(map[string]string, len(ec.Env))
	for k, v := range ec.Env {
		env[k] = os.ExpandEnv(v)
	}

	return def.WithOverrides(args, env)
}

// loadExecutionContextConfig loads a runtime execution context file from disk, using the specified path.
func loadExecutionContextConfig(path string) (*ExecutionContextConfig, error) {
	cfg := NewExecutionContextConfig(path)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("execution context file '%s' does not exist: %w", path, err)
		}

		return nil, fmt.Errorf("could not stat execution context file '%s': %w", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("execution context file '%s' could not be parsed: %w", path, err)
	}

	// Manually set the name field for each ServerExecutionContext.
	for name, server := range cfg.Servers {
		server.Name = name
		cfg.Servers[name] = server
	}

	return cfg, nil
}

// SaveConfig writes the ExecutionContextConfig to disk as a TOML file,
// creating parent directories and setting secure file permissions.
func (c *ExecutionContextConfig) SaveConfig() error {
	path := c.filePath
	if path == "" {
		return fmt.Errorf("config file path not present")
	}

	if err := files.EnsureAtLeastSecureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("could not ensure execution context directory exists for '%s': %w", path, err)
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("could not encode execution context for file '%s': %w", path, err)
	}

	return files.WriteFileAtomic(path, []byte(buf.String()), perms.SecureFile)
}

// DefaultPath returns the user-specific execution context file location.
func DefaultPath() (string, error) {
	dir, err := files.UserSpecificConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "secrets.toml"), nil
}
