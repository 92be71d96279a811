package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcphost/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcphost/internal/cmd/options"
	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/flags"
	"github.com/mozilla-ai/mcphost/internal/printer"
	"github.com/mozilla-ai/mcphost/internal/trust"
)

// TrustCmd should be used to represent the 'trust' command and its subcommands.
type TrustCmd struct {
	*cmd.BaseCmd
	Format    cmd.OutputFormat
	cfgLoader config.Loader
}

// NewTrustCmd creates the 'trust' command with allow, deny, reset and list subcommands.
func NewTrustCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &TrustCmd{
		BaseCmd:   baseCmd,
		Format:    cmd.FormatText,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "trust",
		Short: "Manage which collections may start their servers",
		Long: "Records explicit decisions about whether the servers of a collection may be started. " +
			"An explicit decision overrides the collection's own trusted setting. " +
			"A running daemon picks decisions up on its next start.",
	}

	cobraCommand.AddCommand(
		&cobra.Command{
			Use:   "allow <collection-id>",
			Short: "Allows the servers of a collection to start",
			Args:  cobra.ExactArgs(1),
			RunE:  c.decide(trust.Allow),
		},
		&cobra.Command{
			Use:   "deny <collection-id>",
			Short: "Prevents the servers of a collection from starting",
			Args:  cobra.ExactArgs(1),
			RunE:  c.decide(trust.Deny),
		},
		&cobra.Command{
			Use:   "reset <collection-id>",
			Short: "Forgets the explicit decision for a collection",
			Args:  cobra.ExactArgs(1),
			RunE:  c.forget,
		},
	)

	list := &cobra.Command{
		Use:   "list",
		Short: "Lists explicit trust decisions",
		RunE:  c.list,
	}
	allowed := cmd.AllowedOutputFormats()
	list.Flags().Var(&c.Format, "format", fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()))
	cobraCommand.AddCommand(list)

	return cobraCommand, nil
}

func (c *TrustCmd) decide(d trust.Decision) func(*cobra.Command, []string) error {
	return func(cobraCmd *cobra.Command, args []string) error {
		return c.withResolver(cobraCmd, func(ctx context.Context, r *trust.Resolver) error {
			if err := r.Decide(ctx, args[0], d); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Collection '%s': %s\n", args[0], d)
			return err
		})
	}
}

func (c *TrustCmd) forget(cobraCmd *cobra.Command, args []string) error {
	return c.withResolver(cobraCmd, func(ctx context.Context, r *trust.Resolver) error {
		if err := r.Forget(ctx, args[0]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cobraCmd.OutOrStdout(), "✓ Collection '%s' uses its default trust\n", args[0])
		return err
	})
}

func (c *TrustCmd) list(cobraCmd *cobra.Command, _ []string) error {
	p := &printer.TrustPrinter{}
	p.SetHeader(func(w io.Writer, count int) {
		_, _ = fmt.Fprintf(w, "Trust decisions: %d\n\n", count)
	})
	handler, err := cmd.NewOutputHandler[printer.TrustListing](c.Format, cobraCmd.OutOrStdout(), p)
	if err != nil {
		return err
	}

	return c.withResolver(cobraCmd, func(_ context.Context, r *trust.Resolver) error {
		decisions := r.Decisions()
		out := make([]printer.TrustListing, 0, len(decisions))
		for _, id := range slices.Sorted(maps.Keys(decisions)) {
			out = append(out, printer.TrustListing{CollectionID: id, Decision: string(decisions[id])})
		}
		return handler.HandleResults(out...)
	})
}

func (c *TrustCmd) withResolver(cobraCmd *cobra.Command, fn func(context.Context, *trust.Resolver) error) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	var section *config.CacheConfigSection
	if mod, err := c.cfgLoader.Load(flags.ConfigFile); err == nil {
		section = cacheSection(mod)
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

	return fn(ctx, state.trust)
}
