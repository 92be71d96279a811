package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcphost/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcphost/internal/cmd/options"
	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/flags"
)

// ServersAddCmd should be used to represent the 'servers add' command.
type ServersAddCmd struct {
	*cmd.BaseCmd
	Collection string
	Label      string
	Command    string
	Args       []string
	Env        []string
	URL        string
	Headers    []string
	Cwd        string
	AutoStart  bool
	cfgLoader  config.Loader
}

// NewServersAddCmd creates a newly configured (Cobra) command.
func NewServersAddCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ServersAddCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "add <server-id> (--command <cmd> [--arg <arg> ...] | --url <url>)",
		Short: "Adds a server definition to the configuration file",
		Long: "Adds a server definition to a collection in the configuration file, creating the collection " +
			"when it does not exist. Secrets belong in the execution context instead, see: mcphost config set-env --help",
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	fs := cobraCommand.Flags()
	fs.StringVar(&c.Collection, "collection", config.DefaultCollectionID, "Collection to add the server to")
	fs.StringVar(&c.Label, "label", "", "Display name of the server")
	fs.StringVar(&c.Command, "command", "", "Command that launches a stdio server")
	fs.StringArrayVar(&c.Args, "arg", nil, "Argument passed to the command (can be repeated)")
	fs.StringArrayVar(&c.Env, "env", nil, "Environment variable for the command (can be repeated). Format: KEY=VALUE")
	fs.StringVar(&c.URL, "url", "", "URL of a remote server")
	fs.StringArrayVar(&c.Headers, "header", nil, "HTTP header sent to a remote server (can be repeated). Format: KEY=VALUE")
	fs.StringVar(&c.Cwd, "cwd", "", "Working directory of the command")
	fs.BoolVar(&c.AutoStart, "auto-start", false, "Start the server as soon as the daemon loads it")

	cobraCommand.MarkFlagsMutuallyExclusive("command", "url")
	cobraCommand.MarkFlagsOneRequired("command", "url")

	return cobraCommand, nil
}

func (c *ServersAddCmd) run(cobraCmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	if id == "" {
		return fmt.Errorf("server id cannot be empty")
	}

	logger, err := c.Logger()
	if err != nil {
		return err
	}

	env, err := parseKeyValues(c.Env, "environment variable")
	if err != nil {
		return err
	}
	headers, err := parseKeyValues(c.Headers, "header")
	if err != nil {
		return err
	}

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	def := config.ServerDefinition{
		ID:        id,
		Label:     strings.TrimSpace(c.Label),
		Command:   strings.TrimSpace(c.Command),
		Args:      c.Args,
		Env:       env,
		URL:       strings.TrimSpace(c.URL),
		Headers:   headers,
		Cwd:       strings.TrimSpace(c.Cwd),
		AutoStart: c.AutoStart,
	}
	if err := cfg.AddServer(c.Collection, def); err != nil {
		return err
	}

	logger.Debug("Server added", "collection", c.Collection, "server", id)
	_, err = fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Added server '%s' to collection '%s'\n", id, c.Collection)
	return err
}

// ServersRemoveCmd should be used to represent the 'servers remove' command.
type ServersRemoveCmd struct {
	*cmd.BaseCmd
	Collection string
	cfgLoader  config.Loader
}

// NewServersRemoveCmd creates a newly configured (Cobra) command.
func NewServersRemoveCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ServersRemoveCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "remove <server-id>",
		Short: "Removes a server definition from the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	cobraCommand.Flags().StringVar(
		&c.Collection,
		"collection",
		config.DefaultCollectionID,
		"Collection to remove the server from",
	)

	return cobraCommand, nil
}

// run is configured (via NewServersRemoveCmd) to be called by the Cobra framework when the command is executed.
func (c *ServersRemoveCmd) run(cobraCmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	if id == "" {
		return fmt.Errorf("server id cannot be empty")
	}

	logger, err := c.Logger()
	if err != nil {
		return err
	}

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	if err := cfg.RemoveServer(c.Collection, id); err != nil {
		return err
	}

	logger.Debug("Server removed", "collection", c.Collection, "server", id)
	_, err = fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Removed server '%s' from collection '%s'\n", id, c.Collection)
	return err
}

// parseKeyValues parses KEY=VALUE pairs. Keys are trimmed, values are kept as given.
func parseKeyValues(pairs []string, what string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid %s format: '%s', expected KEY=VALUE", what, pair)
		}
		out[k] = v
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
