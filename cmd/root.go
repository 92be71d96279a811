package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcphost/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcphost/internal/cmd/options"
	"github.com/mozilla-ai/mcphost/internal/flags"
)

// RootCmd should be used to represent the root 'mcphost' command.
type RootCmd struct {
	*cmd.BaseCmd
}

// Execute runs the root command and exits with a non-zero status on failure.
func Execute() {
	rootCmd, err := NewRootCmd(&RootCmd{BaseCmd: &cmd.BaseCmd{}})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error creating root command: %s\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(c *RootCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:          cmd.AppName() + " <command> [args]",
		Short:        "'mcphost' runs MCP servers and publishes their tools, prompts and resources.",
		Long:         c.longDescription(),
		SilenceUsage: true,
		Version:      cmd.Version(),
	}

	// Global flags
	flags.InitFlags(rootCmd.PersistentFlags())

	fns := []func(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error){
		NewInitCmd,
		NewDaemonCmd,
		NewServersCmd,
		NewConfigCmd,
		NewCacheCmd,
		NewTrustCmd,
	}

	for _, fn := range fns {
		tempCmd, err := fn(c.BaseCmd, opt...)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(tempCmd)
	}

	return rootCmd, nil
}

func (c *RootCmd) longDescription() string {
	return `The 'mcphost' CLI manages the MCP servers declared in a configuration file.

The daemon connects to servers on demand, remembers their tools and prompts between runs,
and serves everything they provide through a single HTTP API.`
}
