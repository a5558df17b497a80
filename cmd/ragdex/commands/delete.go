package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jskala/ragdex/internal/ingestion"
	"github.com/jskala/ragdex/internal/logging"
)

// NewDeleteCmd constructs the `ragdex delete` command, which removes
// indexed documents by source id or by provider.
func NewDeleteCmd() *cobra.Command {
	var user string
	var sources []string
	var provider string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove indexed documents from a tenant's index",
		Long: `Remove every chunk belonging to the given source ids, or every chunk
supplied by a provider. Exactly one of --source and --provider must be
given.

Examples:
  ragdex delete --user alice --source "files__local: 1234"
  ragdex delete --user alice --provider wiki__main`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if user == "" {
				return fmt.Errorf("delete: --user is required")
			}
			if (len(sources) == 0) == (provider == "") {
				return fmt.Errorf("delete: exactly one of --source and --provider is required")
			}

			rt, err := newRuntime(log)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer rt.Close()

			if provider != "" {
				if !ingestion.ValidProviderID(provider) {
					return fmt.Errorf("delete: invalid provider id %q", provider)
				}
				if err := rt.Store.DeleteByMetadata(ctx, user, "provider", []string{provider}); err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				fmt.Printf("deleted documents of provider %s for %s\n", provider, user)
				return nil
			}

			for _, s := range sources {
				if !ingestion.ValidSourceID(s) {
					return fmt.Errorf("delete: invalid source id %q", s)
				}
			}
			if err := rt.Store.DeleteByMetadata(ctx, user, "source", sources); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Printf("deleted %d source(s) for %s\n", len(sources), user)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Tenant whose entries are deleted (required)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Source ids to delete")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider whose documents are deleted")

	return cmd
}
