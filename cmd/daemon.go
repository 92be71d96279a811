package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mozilla-ai/mcphost/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcphost/internal/cmd/options"
	"github.com/mozilla-ai/mcphost/internal/config"
	configcontext "github.com/mozilla-ai/mcphost/internal/context"
	"github.com/mozilla-ai/mcphost/internal/daemon"
	"github.com/mozilla-ai/mcphost/internal/flags"
	"github.com/mozilla-ai/mcphost/internal/telemetry"
)

const (
	defaultDaemonAddr = "0.0.0.0:8090"
	devDaemonAddr     = "localhost:8090"
)

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	Dev       bool
	Addr      string
	cfgLoader config.Loader
	ctxLoader configcontext.Loader
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &DaemonCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
		ctxLoader: opts.ContextLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--dev] [--addr]",
		Short: "Launches an `mcphost` daemon instance",
		Long: "Launches an `mcphost` daemon instance, which manages the configured MCP servers and serves their " +
			"tools, prompts and resources via HTTP API",
		RunE: c.run,
	}

	cobraCommand.Flags().BoolVar(
		&c.Dev,
		"dev",
		false,
		"Run the daemon in development-focused mode, restarting servers when their watched files change",
	)

	cobraCommand.Flags().StringVar(
		&c.Addr,
		"addr",
		defaultDaemonAddr,
		"Address for the daemon to bind (not applicable in --dev mode)",
	)

	cobraCommand.MarkFlagsMutuallyExclusive("dev", "addr")

	return cobraCommand, nil
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *DaemonCmd) run(cobraCmd *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	loader := config.NewValidatingLoader(c.cfgLoader, config.RequireAutoStartTrusted)
	mod, err := loader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	daemonCfg := daemonSection(mod)

	addr := c.resolveAddr(cobraCmd.Flags().Changed("addr"), daemonCfg)
	if c.Dev {
		logger.Info("Development-focused mode", "addr", addr, "override", devDaemonAddr)
		addr = devDaemonAddr
	}
	if err := daemon.IsValidAddr(addr); err != nil {
		return err
	}

	execCtx, err := loadExecutionContext(c.ctxLoader)
	if err != nil {
		return err
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	state, err := openState(daemonCtx, logger, cacheSection(mod))
	if err != nil {
		return err
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Warn("Failed to close state store", "error", err)
		}
	}()

	tp := sdktrace.NewTracerProvider()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()
	tel, err := telemetry.New(tp)
	if err != nil {
		return err
	}

	opts, err := daemonOptions(daemonCfg)
	if err != nil {
		return fmt.Errorf("error configuring mcphost daemon options: %w", err)
	}
	opts = append(opts, daemon.WithDevMode(c.Dev), daemon.WithTelemetry(tel))

	deps, err := daemon.NewDependencies(logger, addr, loader, flags.ConfigFile, execCtx, state.caches, state.trust)
	if err != nil {
		return err
	}
	d, err := daemon.NewDaemon(deps, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mcphost daemon instance: %w", err)
	}

	runErr := make(chan error, 1)
	go func() {
		if err := d.StartAndManage(daemonCtx); err != nil && !errors.Is(err, context.Canceled) {
			runErr <- err
		}
		close(runErr)
	}()

	// Print --dev mode banner if required.
	if c.Dev {
		logger.Info("Launching daemon in dev mode", "addr", addr)
		banner := fmt.Sprintf("mcphost daemon running in 'dev' mode.\n\n"+
			"  Local API:\thttp://%s/api/v1\n"+
			"  OpenAPI UI:\thttp://%s/docs\n"+
			"  Config file:\t%s\n"+
			"  Secrets file:\t%s\n",
			addr, addr, flags.ConfigFile, runtimeFileDisplay())

		if flags.LogPath != "" {
			banner += fmt.Sprintf("  Log file:\t%s => (%s)\n", flags.LogPath, flags.LogLevel)
		}

		banner += "\nPress Ctrl+C to stop.\n\n"
		_, _ = fmt.Fprint(cobraCmd.OutOrStdout(), banner)
	}

	select {
	case <-daemonCtx.Done():
		logger.Info("Shutting down daemon")
		err := <-runErr // Wait for cleanup and deferred logging.
		return err      // Graceful Ctrl+C / SIGTERM.
	case err, ok := <-runErr:
		if !ok {
			return nil
		}
		logger.Error("daemon exited with error", "error", err)
		return err // Propagate daemon failure.
	}
}

// resolveAddr picks the bind address: an explicit flag wins over the configuration file, which wins over the
// flag default.
func (c *DaemonCmd) resolveAddr(flagSet bool, cfg *config.DaemonConfig) string {
	if !flagSet && cfg != nil && cfg.API != nil && cfg.API.Addr != nil {
		return strings.TrimSpace(*cfg.API.Addr)
	}
	return strings.TrimSpace(c.Addr)
}

// daemonOptions maps the [daemon] section of the configuration file to daemon options.
func daemonOptions(cfg *config.DaemonConfig) ([]daemon.Option, error) {
	if cfg == nil {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []daemon.Option
	var apiOpts []daemon.APIOption

	if api := cfg.API; api != nil {
		if api.Metrics != nil {
			apiOpts = append(apiOpts, daemon.WithMetrics(*api.Metrics))
		}
		if api.Timeout != nil && api.Timeout.Shutdown != nil {
			apiOpts = append(apiOpts, daemon.WithShutdownTimeout(time.Duration(*api.Timeout.Shutdown)))
		}
		if cors := api.CORS; cors != nil {
			apiOpts = append(apiOpts, daemon.WithCORSEnabled(cors.EnableOrDefault(false)))
			if len(cors.Origins) > 0 {
				apiOpts = append(apiOpts, daemon.WithCORSAllowOrigins(cors.Origins))
			}
			if len(cors.Methods) > 0 {
				apiOpts = append(apiOpts, daemon.WithCORSAllowMethods(cors.Methods))
			}
			if len(cors.Headers) > 0 {
				apiOpts = append(apiOpts, daemon.WithCORSAllowHeaders(cors.Headers))
			}
			if len(cors.ExposeHeaders) > 0 {
				apiOpts = append(apiOpts, daemon.WithCORSExposeHeaders(cors.ExposeHeaders))
			}
			if cors.Credentials != nil {
				apiOpts = append(apiOpts, daemon.WithCORSAllowCredentials(*cors.Credentials))
			}
			if cors.MaxAge != nil {
				apiOpts = append(apiOpts, daemon.WithCORSMaxAge(time.Duration(*cors.MaxAge)))
			}
		}
	}
	if len(apiOpts) > 0 {
		opts = append(opts, daemon.WithAPIOptions(apiOpts...))
	}

	if mcp := cfg.MCP; mcp != nil {
		if t := mcp.Timeout; t != nil {
			if t.Init != nil {
				opts = append(opts, daemon.WithMCPServerInitTimeout(time.Duration(*t.Init)))
			}
			if t.Ping != nil {
				opts = append(opts, daemon.WithMCPServerPingTimeout(time.Duration(*t.Ping)))
			}
			if t.Shutdown != nil {
				opts = append(opts, daemon.WithMCPServerShutdownTimeout(time.Duration(*t.Shutdown)))
			}
		}
		if mcp.Interval != nil && mcp.Interval.Ping != nil {
			opts = append(opts, daemon.WithMCPServerPingInterval(time.Duration(*mcp.Interval.Ping)))
		}
	}

	if cfg.Cache != nil && cfg.Cache.SaveInterval != nil {
		opts = append(opts, daemon.WithCacheSaveInterval(time.Duration(*cfg.Cache.SaveInterval)))
	}

	return opts, nil
}
