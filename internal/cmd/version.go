package cmd

const appName = "mcphost"

// version is set at build time using -ldflags "-X github.com/mozilla-ai/mcphost/internal/cmd.version=...".
var version = "dev"

// AppName returns the name of the application.
func AppName() string {
	return appName
}

// Version returns the version of the application.
func Version() string {
	return version
}
