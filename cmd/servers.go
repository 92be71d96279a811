package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcphost/internal/cache"
	"github.com/mozilla-ai/mcphost/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcphost/internal/cmd/options"
	"github.com/mozilla-ai/mcphost/internal/config"
	configcontext "github.com/mozilla-ai/mcphost/internal/context"
	"github.com/mozilla-ai/mcphost/internal/filter"
	"github.com/mozilla-ai/mcphost/internal/flags"
	"github.com/mozilla-ai/mcphost/internal/printer"
	"github.com/mozilla-ai/mcphost/internal/server"
	"github.com/mozilla-ai/mcphost/internal/trust"
)

// NewServersCmd groups the commands that inspect configured servers.
func NewServersCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	cobraCommand := &cobra.Command{
		Use:   "servers",
		Short: "Inspect and edit configured MCP servers",
	}

	fns := []func(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error){
		NewServersListCmd,
		NewServersAddCmd,
		NewServersRemoveCmd,
	}

	for _, fn := range fns {
		tempCmd, err := fn(baseCmd, opt...)
		if err != nil {
			return nil, err
		}
		cobraCommand.AddCommand(tempCmd)
	}

	return cobraCommand, nil
}

// ServersListCmd should be used to represent the 'servers list' command.
type ServersListCmd struct {
	*cmd.BaseCmd
	Format    cmd.OutputFormat
	Filters   []string
	cfgLoader config.Loader
	ctxLoader configcontext.Loader
}

// NewServersListCmd creates a newly configured (Cobra) command.
func NewServersListCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ServersListCmd{
		BaseCmd:   baseCmd,
		Format:    cmd.FormatText,
		cfgLoader: opts.ConfigLoader,
		ctxLoader: opts.ContextLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "list",
		Short: "Lists configured servers with the tools and prompts remembered from their last run",
		Long: "Lists every configured server together with its cache state and the tools and prompts " +
			"remembered from its last run. No server is started or contacted.",
		RunE: c.run,
	}

	allowed := cmd.AllowedOutputFormats()
	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()),
	)

	cobraCommand.Flags().StringArrayVar(
		&c.Filters,
		"filter",
		nil,
		fmt.Sprintf("Only list servers matching KEY=VALUE (can be repeated, keys: %s)",
			strings.Join(listingFilters.Keys(), ", ")),
	)

	return cobraCommand, nil
}

// listingFilters are the keys accepted by 'servers list --filter'.
// Tool and prompt filters take comma-separated names and match servers remembering any of them.
var listingFilters = filter.Set[printer.ServerListing]{
	"collection": filter.Equals(func(l printer.ServerListing) string { return l.CollectionID }),
	"type":       filter.Equals(func(l printer.ServerListing) string { return l.Type }),
	"cache":      filter.Equals(func(l printer.ServerListing) string { return l.CacheState }),
	"trusted":    filter.EqualsBool(func(l printer.ServerListing) bool { return l.Trusted }),
	"auto-start": filter.EqualsBool(func(l printer.ServerListing) bool { return l.AutoStart }),
	"tool":       filter.HasAny(func(l printer.ServerListing) []string { return l.Tools }),
	"prompt":     filter.HasAny(func(l printer.ServerListing) []string { return l.Prompts }),
}

func (c *ServersListCmd) run(cobraCmd *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	p := &printer.ServerListPrinter{}
	p.SetHeader(func(w io.Writer, count int) {
		_, _ = fmt.Fprintf(w, "Servers found: %d\n\n", count)
	})
	handler, err := cmd.NewOutputHandler[printer.ServerListing](c.Format, cobraCmd.OutOrStdout(), p)
	if err != nil {
		return err
	}

	filters, err := parseKeyValues(c.Filters, "filter")
	if err != nil {
		return handler.HandleError(err)
	}
	if err := listingFilters.Validate(filters); err != nil {
		return handler.HandleError(err)
	}

	mod, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return handler.HandleError(err)
	}

	execCtx, err := loadExecutionContext(c.ctxLoader)
	if err != nil {
		return handler.HandleError(err)
	}

	ctx := cobraCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	state, err := openState(ctx, logger, cacheSection(mod))
	if err != nil {
		return handler.HandleError(err)
	}
	defer func() { _ = state.Close() }()

	listings, err := filter.Apply(
		listingFilters,
		listServers(ctx, mod.ListCollections(), execCtx, state.caches, state.trust),
		filters,
	)
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResults(listings...)
}

// listServers describes every definition from what the caches remember about it.
// A cache entry for a different nonce is reported as outdated.
func listServers(
	ctx context.Context,
	collections []config.Collection,
	execCtx configcontext.Modifier,
	caches map[cache.Scope]*cache.Cache,
	resolver *trust.Resolver,
) []printer.ServerListing {
	var out []printer.ServerListing
	for _, col := range collections {
		trusted := resolver.Trusted(ctx, col, false)
		c := caches[scopeOf(col)]

		for _, def := range col.Servers {
			def = execCtx.Apply(def)
			listing := printer.ServerListing{
				CollectionID: col.ID,
				ID:           def.ID,
				Label:        def.DisplayName(),
				Type:         string(def.Type),
				AutoStart:    def.AutoStart,
				Trusted:      trusted,
				CacheState:   server.CacheStateUnknown.String(),
			}

			if c != nil {
				if entry, ok := c.Get(def.ID); ok {
					listing.CacheState = server.CacheStateOutdated.String()
					if entry.Nonce == def.Nonce {
						listing.CacheState = server.CacheStateCached.String()
					}
					for _, t := range entry.Tools {
						listing.Tools = append(listing.Tools, t.Name)
					}
					for _, p := range entry.Prompts {
						listing.Prompts = append(listing.Prompts, p.Name)
					}
				}
			}

			out = append(out, listing)
		}
	}
	return out
}
