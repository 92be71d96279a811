package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/mozilla-ai/mcphost/internal/files"
	"github.com/mozilla-ai/mcphost/internal/perms"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

var (
	// ErrInvalidValue is wrapped by errors about a configuration value that cannot be used.
	ErrInvalidValue = errors.New("config value invalid")

	// ErrConfigLoadFailed is wrapped by every error reading or decoding the configuration file.
	ErrConfigLoadFailed = errors.New("failed to load configuration")
)

// NewErrInvalidValue returns an error naming the offending key and value.
func NewErrInvalidValue(key string, value string) error {
	return fmt.Errorf("%w: '%s' (value: '%s')", ErrInvalidValue, key, value)
}

const skeleton = `# mcphost configuration.
#
# [[collections]]
# id = "workspace"
# label = "Workspace"
# scope = "workspace"
# trusted = true
#
#   [[collections.servers]]
#   id = "time"
#   command = "uvx"
#   args = ["mcp-server-time"]
#   auto_start = true

collections = []
`

// Init creates the base skeleton configuration file for the mcphost project.
func (d *DefaultLoader) Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if formatOf(path) != formatTOML {
		return fmt.Errorf("init only writes TOML configuration, got '%s'", path)
	}

	if err := os.WriteFile(path, []byte(skeleton), perms.RegularFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func (d *DefaultLoader) Load(path string) (Modifier, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrConfigLoadFailed)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found, run: 'mcphost init'", ErrConfigLoadFailed)
		}
		return nil, fmt.Errorf("%w: failed to read config file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: config file is empty (%s)", ErrConfigLoadFailed, path)
	}

	f := formatOf(path)
	var layout fileLayout
	if err := decode(f, data, &layout); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	cfg := &Config{
		Daemon:         layout.Daemon,
		Collections:    layout.Collections,
		configFilePath: path,
		format:         f,
	}

	if len(layout.Servers) > 0 {
		if len(layout.Collections) > 0 {
			return nil, fmt.Errorf(
				"%w: config file (%s) declares both 'servers' and 'collections'",
				ErrConfigLoadFailed,
				path,
			)
		}
		cfg.flat = true
		cfg.Collections = []Collection{flatten(layout.Servers)}
	}

	cfg.normalize(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigLoadFailed, err)
	}

	return cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.configFilePath
}

// ListCollections returns a copy of the loaded collections.
func (c *Config) ListCollections() []Collection {
	out := make([]Collection, len(c.Collections))
	for i, col := range c.Collections {
		col.Servers = slices.Clone(col.Servers)
		out[i] = col
	}
	return out
}

// AddServer adds def to the collection identified by collectionID, creating the collection if needed,
// and saves the configuration.
func (c *Config) AddServer(collectionID string, def ServerDefinition) error {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		collectionID = DefaultCollectionID
	}

	idx := slices.IndexFunc(c.Collections, func(col Collection) bool { return col.ID == collectionID })
	if idx == -1 {
		if c.flat {
			return fmt.Errorf("'%s' only holds the '%s' collection", c.configFilePath, DefaultCollectionID)
		}
		c.Collections = append(c.Collections, Collection{ID: collectionID, Scope: ScopeWorkspace})
		idx = len(c.Collections) - 1
	}

	col := &c.Collections[idx]
	if slices.ContainsFunc(col.Servers, func(s ServerDefinition) bool { return s.ID == def.ID }) {
		return fmt.Errorf("duplicate server '%s' in collection '%s'", def.ID, collectionID)
	}

	def.normalize(filepath.Dir(c.configFilePath))
	col.Servers = append(col.Servers, def)

	if err := c.validate(); err != nil {
		col.Servers = col.Servers[:len(col.Servers)-1]
		return err
	}

	return c.saveConfig()
}

// RemoveServer removes the server identified by id from the collection and saves the configuration.
func (c *Config) RemoveServer(collectionID string, id string) error {
	idx := slices.IndexFunc(c.Collections, func(col Collection) bool { return col.ID == collectionID })
	if idx == -1 {
		return fmt.Errorf("collection '%s' not found", collectionID)
	}

	col := &c.Collections[idx]
	n := len(col.Servers)
	col.Servers = slices.DeleteFunc(col.Servers, func(s ServerDefinition) bool { return s.ID == id })
	if len(col.Servers) == n {
		return fmt.Errorf("server '%s' not found in collection '%s'", id, collectionID)
	}

	return c.saveConfig()
}

func (c *Config) saveConfig() error {
	if c.configFilePath == "" {
		return fmt.Errorf("config file path not present")
	}

	cols := c.ListCollections()
	for i := range cols {
		for j := range cols[i].Servers {
			if cols[i].Servers[j].nonceDerived {
				cols[i].Servers[j].Nonce = ""
			}
		}
	}

	doc := fileLayout{Daemon: c.Daemon, Collections: cols}
	if c.flat {
		doc.Collections = nil
		doc.Servers = map[string]ServerDefinition{}
		for _, col := range cols {
			for _, s := range col.Servers {
				doc.Servers[s.ID] = s
			}
		}
	}

	data, err := encode(c.format, doc)
	if err != nil {
		return err
	}

	return files.WriteFileAtomic(c.configFilePath, data, perms.RegularFile)
}

// normalize fills inferred fields and resolves relative paths against dir.
func (c *Config) normalize(dir string) {
	for i := range c.Collections {
		col := &c.Collections[i]
		if col.Scope == "" {
			col.Scope = ScopeWorkspace
		}
		for j := range col.Servers {
			col.Servers[j].normalize(dir)
		}
	}
}

// validate orchestrates validation of configuration structure.
func (c *Config) validate() error {
	if err := c.validateCollections(); err != nil {
		return err
	}

	if c.Daemon != nil {
		if err := c.Daemon.Validate(); err != nil {
			return fmt.Errorf("daemon configuration error: %w", err)
		}
	}

	return nil
}

func (c *Config) validateCollections() error {
	seen := map[string]struct{}{}

	for _, col := range c.Collections {
		if strings.TrimSpace(col.ID) == "" {
			return fmt.Errorf("collection has empty id")
		}
		if _, ok := seen[col.ID]; ok {
			return fmt.Errorf("duplicate collection id '%s'", col.ID)
		}
		seen[col.ID] = struct{}{}

		switch col.Scope {
		case ScopeUser, ScopeWorkspace, ScopeRemote:
		default:
			return NewErrInvalidValue("collections."+col.ID+".scope", string(col.Scope))
		}

		servers := map[string]struct{}{}
		for _, s := range col.Servers {
			if _, ok := servers[s.ID]; ok {
				return fmt.Errorf("duplicate server id '%s' in collection '%s'", s.ID, col.ID)
			}
			servers[s.ID] = struct{}{}

			if err := s.Validate(); err != nil {
				return fmt.Errorf("collection '%s': %w", col.ID, err)
			}
		}
	}

	return nil
}

// Validate checks a single definition.
func (d ServerDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("server has empty id")
	}

	hasCommand := strings.TrimSpace(d.Command) != ""
	hasURL := strings.TrimSpace(d.URL) != ""
	switch {
	case hasCommand && hasURL:
		return fmt.Errorf("server '%s' declares both command and url", d.ID)
	case !hasCommand && !hasURL:
		return fmt.Errorf("server '%s' declares neither command nor url", d.ID)
	}

	switch d.Type {
	case transport.KindStdio:
		if !hasCommand {
			return fmt.Errorf("server '%s' of type %s requires a command", d.ID, d.Type)
		}
	case transport.KindSSE, transport.KindHTTP:
		if !hasURL {
			return fmt.Errorf("server '%s' of type %s requires a url", d.ID, d.Type)
		}
	default:
		return NewErrInvalidValue("servers."+d.ID+".type", string(d.Type))
	}

	if d.Dev == nil {
		return nil
	}

	var errs []error
	for _, pattern := range d.Dev.Watch {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, NewErrInvalidValue("servers."+d.ID+".dev.watch", pattern))
		}
	}
	if dbg := d.Dev.Debug; dbg != nil {
		if dbg.Type != DebugTypeNode && dbg.Type != DebugTypePython {
			errs = append(errs, NewErrInvalidValue("servers."+d.ID+".dev.debug.type", dbg.Type))
		}
		if dbg.Port < 0 || dbg.Port > 65535 {
			errs = append(errs, NewErrInvalidValue("servers."+d.ID+".dev.debug.port", fmt.Sprint(dbg.Port)))
		}
	}

	return errors.Join(errs...)
}

// flatten turns a server map keyed by ID into the default collection, ordered by ID.
func flatten(servers map[string]ServerDefinition) Collection {
	col := Collection{ID: DefaultCollectionID, Label: "Workspace", Scope: ScopeWorkspace}
	for _, id := range slices.Sorted(maps.Keys(servers)) {
		s := servers[id]
		s.ID = id
		col.Servers = append(col.Servers, s)
	}
	return col
}

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	default:
		return formatTOML
	}
}

func decode(f format, data []byte, v any) error {
	switch f {
	case formatYAML:
		return yaml.Unmarshal(data, v)
	case formatJSON:
		return json.Unmarshal(data, v)
	default:
		_, err := toml.Decode(string(data), v)
		return err
	}
}

func encode(f format, v any) ([]byte, error) {
	switch f {
	case formatYAML:
		return yaml.Marshal(v)
	case formatJSON:
		return json.MarshalIndent(v, "", "  ")
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
