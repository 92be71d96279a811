package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcphost/internal/cache"
	"github.com/mozilla-ai/mcphost/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcphost/internal/cmd/options"
	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/flags"
)

const scopeAll = "all"

// NewCacheCmd groups the commands that manage the persisted server metadata.
func NewCacheCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	cobraCommand := &cobra.Command{
		Use:   "cache",
		Short: "Manage the tools and prompts remembered between runs",
	}

	reset, err := NewCacheResetCmd(baseCmd, opt...)
	if err != nil {
		return nil, err
	}
	cobraCommand.AddCommand(reset)

	return cobraCommand, nil
}

// CacheResetCmd should be used to represent the 'cache reset' command.
type CacheResetCmd struct {
	*cmd.BaseCmd
	Scope     string
	cfgLoader config.Loader
}

// NewCacheResetCmd creates a newly configured (Cobra) command.
func NewCacheResetCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &CacheResetCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "reset [--scope user|workspace|all]",
		Short: "Forgets remembered server metadata",
		Long: "Forgets the tools, prompts and capabilities remembered for servers, along with the collections " +
			"remembered from previous runs. Run it while the daemon is stopped; a running daemon writes its own " +
			"state back on shutdown.",
		RunE: c.run,
	}

	cobraCommand.Flags().StringVar(
		&c.Scope,
		"scope",
		scopeAll,
		"Which cache to reset (one of: user, workspace, all)",
	)

	return cobraCommand, nil
}

func (c *CacheResetCmd) run(cobraCmd *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	scopes, err := parseScopes(c.Scope)
	if err != nil {
		return err
	}

	// Without a readable configuration the default store location is reset.
	var section *config.CacheConfigSection
	if mod, err := c.cfgLoader.Load(flags.ConfigFile); err == nil {
		section = cacheSection(mod)
	} else {
		logger.Debug("Using default cache settings", "error", err)
	}

	ctx := cobraCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	state, err := openState(ctx, logger, section)
	if err != nil {
		return err
	}
	defer func() { _ = state.Close() }()

	var errs []error
	for _, scope := range scopes {
		cch := state.caches[scope]
		cch.Reset(nil)
		if err := cch.Save(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to reset %s cache: %w", scope, err))
			continue
		}
		if _, err := fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Reset %s cache\n", scope); err != nil {
			return err
		}
	}

	return errors.Join(errs...)
}

func parseScopes(v string) ([]cache.Scope, error) {
	switch s := strings.ToLower(strings.TrimSpace(v)); s {
	case scopeAll, "":
		return []cache.Scope{cache.ScopeUser, cache.ScopeWorkspace}, nil
	case string(cache.ScopeUser), string(cache.ScopeWorkspace):
		return []cache.Scope{cache.Scope(s)}, nil
	default:
		valid := []string{string(cache.ScopeUser), string(cache.ScopeWorkspace), scopeAll}
		slices.Sort(valid)
		return nil, fmt.Errorf("invalid scope '%s', must be one of %s", v, strings.Join(valid, ", "))
	}
}
