package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRootCmd(t *testing.T) {
	root, err := NewRootCmd(&RootCmd{BaseCmd: testBaseCmd()})
	require.NoError(t, err)
	require.Equal(t, "mcphost <command> [args]", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"init", "daemon", "servers", "config", "cache", "trust"} {
		require.Contains(t, names, want)
	}

	for _, name := range []string{"config-file", "runtime-file", "log-path", "log-level"} {
		require.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
}
