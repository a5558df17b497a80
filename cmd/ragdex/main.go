// Command ragdex is the entry point for the ragdex retrieval backend.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// ingestion, query and deletion pipelines.
package main

import (
	"fmt"
	"os"

	"github.com/jskala/ragdex/cmd/ragdex/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
