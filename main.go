package main

import (
	"github.com/mozilla-ai/mcphost/cmd"
)

func main() {
	// Execute the root command.
	cmd.Execute()
}
