package main

import (
	"os"

	"github.com/bintelAI/ai-workflow/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
