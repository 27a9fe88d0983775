package main

import (
	"fmt"
	"os"

	"github.com/SemanticWebLanguageServer/swls-web/cmd/swls/commands"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, buildTime)
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "swls:", err)
		os.Exit(1)
	}
}
