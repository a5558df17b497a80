// Package commands defines all Cobra CLI commands for the ragdex binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jskala/ragdex/internal/audit"
	"github.com/jskala/ragdex/internal/config"
	"github.com/jskala/ragdex/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragdex",
		Short: "ragdex — a multi-tenant retrieval backend for your documents",
		Long: `ragdex indexes documents into a per-tenant vector store and answers
natural language questions against them with a context-budgeted prompt.

Vector store backend is selected via the VECTOR_STORE environment variable
(qdrant, sqlite, memory) or a YAML config file (~/.ragdex/config.yaml).
Model providers (ollama, openai, azure) are selected via MODEL_PROVIDER
and EMBEDDING_PROVIDER. See 'ragdex --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A local .env is a development convenience; absence is normal.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragdex/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewDeleteCmd(),
		NewVersionCmd(),
	)

	return root
}
