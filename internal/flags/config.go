package flags

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// Env vars
	EnvVarConfigFile  = "MCPHOST_CONFIG_FILE"
	EnvVarRuntimeFile = "MCPHOST_RUNTIME_FILE"
	EnvVarLogPath     = "MCPHOST_LOG_PATH"
	EnvVarLogLevel    = "MCPHOST_LOG_LEVEL"

	// Defaults
	DefaultConfigFile = ".mcphost.toml"
	DefaultLogPath    = ""
	DefaultLogLevel   = "info"

	// Flag names
	FlagNameConfigFile  = "config-file"
	FlagNameRuntimeFile = "runtime-file"
	FlagNameLogPath     = "log-path"
	FlagNameLogLevel    = "log-level"
)

var (
	ConfigFile  string
	RuntimeFile string
	LogPath     string
	LogLevel    string
)

// InitFlags registers the persistent flags shared by every command on the supplied flag set.
// Values already assigned take precedence over environment variables, which take precedence over defaults.
func InitFlags(fs *pflag.FlagSet) {
	ConfigFile = fromEnv(ConfigFile, EnvVarConfigFile, DefaultConfigFile)
	fs.StringVar(&ConfigFile, FlagNameConfigFile, ConfigFile, "path to the server definitions file")

	// Empty means the user-specific default, resolved by the execution context loader.
	RuntimeFile = fromEnv(RuntimeFile, EnvVarRuntimeFile, "")
	fs.StringVar(&RuntimeFile, FlagNameRuntimeFile, RuntimeFile, "path to the execution context (secrets) file")

	LogPath = fromEnv(LogPath, EnvVarLogPath, DefaultLogPath)
	fs.StringVar(&LogPath, FlagNameLogPath, LogPath, "path to generated log file")

	LogLevel = strings.ToLower(fromEnv(LogLevel, EnvVarLogLevel, DefaultLogLevel))
	fs.StringVar(&LogLevel, FlagNameLogLevel, LogLevel, "log level for mcphost logs")
}

func fromEnv(current string, envVar string, def string) string {
	if current != "" {
		return current
	}
	if env := strings.TrimSpace(os.Getenv(envVar)); env != "" {
		return env
	}
	return def
}
