package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/transport"
)

func writeConfig(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func load(t *testing.T, path string) *Config {
	t.Helper()

	loader := &DefaultLoader{}
	mod, err := loader.Load(path)
	require.NoError(t, err)
	cfg, ok := mod.(*Config)
	require.True(t, ok)
	return cfg
}

func TestLoad_TOML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, ".mcphost.toml", `
[daemon.api]
addr = "127.0.0.1:8090"

[daemon.mcp.timeout]
init = "15s"

[[collections]]
id = "tools"
label = "My tools"
scope = "user"

  [[collections.servers]]
  id = "time"
  command = "uvx"
  args = ["mcp-server-time"]
  auto_start = true

  [[collections.servers]]
  id = "remote"
  type = "sse"
  url = "https://example.com/sse"
  headers = { Authorization = "Bearer x" }
`)

	cfg := load(t, path)

	require.Len(t, cfg.Collections, 1)
	col := cfg.Collections[0]
	assert.Equal(t, "tools", col.ID)
	assert.Equal(t, ScopeUser, col.Scope)
	require.Len(t, col.Servers, 2)

	timeSrv := col.Servers[0]
	assert.Equal(t, transport.KindStdio, timeSrv.Type)
	assert.Equal(t, "time", timeSrv.DisplayName())
	assert.True(t, timeSrv.AutoStart)
	assert.Len(t, timeSrv.Nonce, 64)

	remote := col.Servers[1]
	assert.Equal(t, transport.KindSSE, remote.Type)
	assert.Equal(t, "Bearer x", remote.Headers["Authorization"])

	require.NotNil(t, cfg.Daemon)
	assert.Equal(t, "127.0.0.1:8090", *cfg.Daemon.API.Addr)
	assert.Equal(t, "15s", cfg.Daemon.MCP.Timeout.Init.String())
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "mcphost.yaml", `
collections:
  - id: team
    trusted: true
    servers:
      - id: docs
        url: https://docs.example.com/mcp
`)

	cfg := load(t, path)

	require.Len(t, cfg.Collections, 1)
	col := cfg.Collections[0]
	assert.Equal(t, ScopeWorkspace, col.Scope)
	require.NotNil(t, col.Trusted)
	assert.True(t, *col.Trusted)
	assert.Equal(t, transport.KindHTTP, col.Servers[0].Type)
}

func TestLoad_FlatJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "mcp.json", `{
  "servers": {
    "zeta": {"type": "stdio", "command": "node", "args": ["server.js"], "cwd": "srv"},
    "alpha": {"type": "http", "url": "http://localhost:3000/mcp"}
  }
}`)

	cfg := load(t, path)

	require.Len(t, cfg.Collections, 1)
	col := cfg.Collections[0]
	assert.Equal(t, DefaultCollectionID, col.ID)
	require.Len(t, col.Servers, 2)
	assert.Equal(t, "alpha", col.Servers[0].ID)
	assert.Equal(t, "zeta", col.Servers[1].ID)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "srv"), col.Servers[1].Cwd)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tc := []struct {
		name     string
		file     string
		content  string
		contains string
	}{
		{
			name:     "empty file",
			file:     "a.toml",
			content:  "  \n",
			contains: "config file is empty",
		},
		{
			name:     "malformed",
			file:     "a.toml",
			content:  "collections = [",
			contains: "failed to decode",
		},
		{
			name: "duplicate collection",
			file: "a.toml",
			content: `
[[collections]]
id = "a"
[[collections]]
id = "a"
`,
			contains: "duplicate collection id 'a'",
		},
		{
			name: "command and url",
			file: "a.toml",
			content: `
[[collections]]
id = "a"
  [[collections.servers]]
  id = "s"
  command = "x"
  url = "http://localhost"
`,
			contains: "both command and url",
		},
		{
			name: "duplicate server",
			file: "a.toml",
			content: `
[[collections]]
id = "a"
  [[collections.servers]]
  id = "s"
  command = "x"
  [[collections.servers]]
  id = "s"
  command = "y"
`,
			contains: "duplicate server id 's'",
		},
		{
			name: "bad watch glob",
			file: "a.toml",
			content: `
[[collections]]
id = "a"
  [[collections.servers]]
  id = "s"
  command = "x"
  dev = { watch = ["src/[a-"] }
`,
			contains: "dev.watch",
		},
		{
			name:     "servers and collections",
			file:     "a.json",
			content:  `{"servers": {"s": {"command": "x"}}, "collections": [{"id": "a", "servers": []}]}`,
			contains: "both 'servers' and 'collections'",
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.file, tt.content)
			_, err := (&DefaultLoader{}).Load(path)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrConfigLoadFailed)
			require.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := (&DefaultLoader{}).Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, ErrConfigLoadFailed)
	require.ErrorContains(t, err, "mcphost init")
}

func TestInit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".mcphost.toml")
	loader := &DefaultLoader{}

	require.NoError(t, loader.Init(path))
	require.ErrorContains(t, loader.Init(path), "already exists")

	// The skeleton itself is an empty but valid config.
	cfg := load(t, path)
	assert.Empty(t, cfg.Collections)
}

func TestAddRemoveServer(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, ".mcphost.toml", `
[[collections]]
id = "a"
`)
	cfg := load(t, path)

	require.NoError(t, cfg.AddServer("a", ServerDefinition{ID: "time", Command: "uvx"}))
	require.ErrorContains(t, cfg.AddServer("a", ServerDefinition{ID: "time", Command: "uvx"}), "duplicate server")
	require.Error(t, cfg.AddServer("a", ServerDefinition{ID: "bad"}))
	require.NoError(t, cfg.AddServer("b", ServerDefinition{ID: "web", URL: "http://localhost:1234/mcp"}))

	reloaded := load(t, path)
	cols := reloaded.ListCollections()
	require.Len(t, cols, 2)
	require.Len(t, cols[0].Servers, 1)
	assert.Equal(t, "time", cols[0].Servers[0].ID)
	assert.Equal(t, transport.KindStdio, cols[0].Servers[0].Type)
	assert.Equal(t, "b", cols[1].ID)

	require.NoError(t, reloaded.RemoveServer("a", "time"))
	require.ErrorContains(t, reloaded.RemoveServer("a", "time"), "not found")
	require.ErrorContains(t, reloaded.RemoveServer("zzz", "time"), "collection 'zzz' not found")

	assert.Empty(t, load(t, path).Collections[0].Servers)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "nonce", "derived nonces are not persisted")
}

func TestAddServer_FlatJSONKeepsLayout(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "mcp.json", `{"servers": {"a": {"command": "x"}}}`)
	cfg := load(t, path)

	require.NoError(t, cfg.AddServer("", ServerDefinition{ID: "b", Command: "y"}))
	require.Error(t, cfg.AddServer("other", ServerDefinition{ID: "c", Command: "z"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"servers"`)
	assert.NotContains(t, string(data), `"collections"`)

	require.Len(t, load(t, path).Collections[0].Servers, 2)
}

func TestListCollections_ReturnsCopy(t *testing.T) {
	t.Parallel()

	cfg := &Config{Collections: []Collection{{ID: "a", Servers: []ServerDefinition{{ID: "s"}}}}}

	cols := cfg.ListCollections()
	cols[0].Servers[0].ID = "changed"

	assert.Equal(t, "s", cfg.Collections[0].Servers[0].ID)
}
