package cmd

import (
	"fmt"
	"maps"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcphost/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcphost/internal/cmd/options"
	configcontext "github.com/mozilla-ai/mcphost/internal/context"
)

// NewConfigCmd groups the commands that edit the execution context.
func NewConfigCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	cobraCmd := &cobra.Command{
		Use:   "config",
		Short: "Manages per-server execution context.",
		Long: "Manages the arguments and environment variables layered onto server definitions at launch. " +
			"They are kept in the execution context file, outside the shared configuration file.",
	}

	fns := []func(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error){
		NewSetArgsCmd,
		NewSetEnvCmd,
	}

	for _, fn := range fns {
		tempCmd, err := fn(baseCmd, opt...)
		if err != nil {
			return nil, err
		}
		cobraCmd.AddCommand(tempCmd)
	}

	return cobraCmd, nil
}

type SetEnvCmd struct {
	*cmd.BaseCmd
	EnvVars   []string
	ctxLoader configcontext.Loader
}

func NewSetEnvCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &SetEnvCmd{
		BaseCmd:   baseCmd,
		ctxLoader: opts.ContextLoader,
	}

	cobraCmd := &cobra.Command{
		Use:   "set-env <server-id> --env KEY=VALUE [--env KEY=VALUE ...]",
		Short: "Set environment variables for an MCP server.",
		Long: "Set or update environment variables for a server in the execution context file. " +
			"Values may reference host variables as ${NAME}.",
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	cobraCmd.Flags().StringArrayVar(
		&c.EnvVars,
		"env",
		nil,
		"Specify environment variable for the server (can be repeated). Format: KEY=VALUE.",
	)
	_ = cobraCmd.MarkFlagRequired("env")

	return cobraCmd, nil
}

func (c *SetEnvCmd) run(cobraCmd *cobra.Command, args []string) error {
	serverID := strings.TrimSpace(args[0])
	if serverID == "" {
		return fmt.Errorf("server id is required and cannot be empty")
	}

	envMap, err := parseKeyValues(c.EnvVars, "environment variable")
	if err != nil {
		return err
	}

	execCtx, err := loadExecutionContext(c.ctxLoader)
	if err != nil {
		return err
	}

	ec, _ := execCtx.Get(serverID)
	ec.Name = serverID
	env := maps.Clone(ec.Env)
	if env == nil {
		env = make(map[string]string, len(envMap))
	}
	maps.Copy(env, envMap)
	ec.Env = env

	op, err := execCtx.Upsert(ec)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(
		cobraCmd.OutOrStdout(),
		"✓ Environment variables for server '%s' (operation: %s): %s\n",
		serverID, op, strings.Join(sortedKeys(envMap), ", "),
	)
	return err
}

type SetArgsCmd struct {
	*cmd.BaseCmd
	Args      []string
	ctxLoader configcontext.Loader
}

func NewSetArgsCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &SetArgsCmd{
		BaseCmd:   baseCmd,
		ctxLoader: opts.ContextLoader,
	}

	cobraCmd := &cobra.Command{
		Use:   "set-args <server-id> -- [args...]",
		Short: "Set startup arguments for an MCP server.",
		Long: "Replace the arguments appended to a server's command in the execution context file. " +
			"Passing no arguments clears them.",
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}

	return cobraCmd, nil
}

func (c *SetArgsCmd) run(cobraCmd *cobra.Command, args []string) error {
	serverID := strings.TrimSpace(args[0])
	if serverID == "" {
		return fmt.Errorf("server id is required and cannot be empty")
	}

	execCtx, err := loadExecutionContext(c.ctxLoader)
	if err != nil {
		return err
	}

	ec, _ := execCtx.Get(serverID)
	ec.Name = serverID
	ec.Args = args[1:]
	if len(ec.Args) == 0 {
		ec.Args = nil
	}

	op, err := execCtx.Upsert(ec)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(
		cobraCmd.OutOrStdout(),
		"✓ Startup arguments for server '%s' (operation: %s): %v\n",
		serverID, op, ec.Args,
	)
	return err
}
