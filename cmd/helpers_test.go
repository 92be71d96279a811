package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/cmd"
	"github.com/mozilla-ai/mcphost/internal/flags"
	"github.com/mozilla-ai/mcphost/internal/perms"
)

// secureTempDir returns a fresh directory with the permissions required for caches and secrets.
func secureTempDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.MkdirAll(dir, perms.SecureDir))
	require.NoError(t, os.Chmod(dir, perms.SecureDir))
	return dir
}

// useFiles points the global file flags at a fresh directory for the duration of the test.
// Tests using it share package globals and must not run in parallel.
func useFiles(t *testing.T, configContent string) (configPath string, runtimePath string) {
	t.Helper()

	dir := secureTempDir(t)
	configPath = filepath.Join(dir, ".mcphost.toml")
	runtimePath = filepath.Join(dir, "secrets.toml")
	if configContent != "" {
		require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))
	}

	prevConfig, prevRuntime := flags.ConfigFile, flags.RuntimeFile
	flags.ConfigFile, flags.RuntimeFile = configPath, runtimePath
	t.Cleanup(func() {
		flags.ConfigFile, flags.RuntimeFile = prevConfig, prevRuntime
	})

	return configPath, runtimePath
}

func testBaseCmd() *cmd.BaseCmd {
	base := &cmd.BaseCmd{}
	base.SetLogger(hclog.NewNullLogger())
	return base
}

func execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	c.SetOut(out)
	c.SetErr(out)
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}
