package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcphost/internal/flags"
	"github.com/mozilla-ai/mcphost/internal/perms"
)

// BaseCmd holds what every command shares.
type BaseCmd struct {
	mu     sync.Mutex
	logger hclog.Logger
}

// SetLogger updates the command's logger.
func (c *BaseCmd) SetLogger(logger hclog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger = logger
}

// Logger returns the logger for the command, creating it from the log flags on first use.
// Output is discarded unless a log path is configured.
func (c *BaseCmd) Logger() (hclog.Logger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger != nil {
		return c.logger, nil
	}

	logger, err := newLogger(flags.LogLevel, flags.LogPath)
	if err != nil {
		return nil, err
	}
	c.logger = logger

	return c.logger, nil
}

func newLogger(level string, logPath string) (hclog.Logger, error) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}

	var output io.Writer = io.Discard
	if logPath = strings.TrimSpace(logPath); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, perms.RegularFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file (%s): %w", logPath, err)
		}
		output = f
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   AppName(),
		Level:  logLevel,
		Output: output,
	}), nil
}

func parseLogLevel(level string) (hclog.Level, error) {
	switch lvl := strings.ToLower(strings.TrimSpace(level)); lvl {
	case "":
		return hclog.LevelFromString(flags.DefaultLogLevel), nil
	case "trace", "debug", "info", "warn", "error", "off":
		return hclog.LevelFromString(lvl), nil
	default:
		return hclog.NoLevel, fmt.Errorf(
			"invalid log level '%s', must be one of: trace, debug, info, warn, error, off",
			level,
		)
	}
}
