package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jskala/ragdex/internal/chain"
	"github.com/jskala/ragdex/internal/logging"
)

// NewQueryCmd constructs the `ragdex query` command, which answers a
// question against a tenant's index from the command line.
func NewQueryCmd() *cobra.Command {
	var user string
	var limit int
	var scopeType string
	var scopeList []string
	var noContext bool
	var endSeparator string

	cmd := &cobra.Command{
		Use:   "query [question...]",
		Short: "Answer a question against a tenant's documents",
		Long: `Retrieve relevant chunks from the tenant's index, build a budgeted
prompt and print the generated answer together with its sources.

Examples:
  ragdex query --user alice how do I rotate the api key
  ragdex query --user alice --scope-type provider --scope wiki__main deployment steps
  ragdex query --user alice --no-context what is a vector store`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if user == "" && !noContext {
				return fmt.Errorf("query: --user is required")
			}

			question := strings.Join(args, " ")

			rt, err := newRuntime(log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer rt.Close()

			var out *chain.Output
			if noContext {
				out, err = rt.Chain.AnswerWithoutContext(ctx, question, "", endSeparator)
			} else {
				out, err = rt.Chain.Answer(ctx, user, question, limit,
					parseScope(scopeType, scopeList), endSeparator)
			}
			if errors.Is(err, chain.ErrNoContext) {
				return fmt.Errorf("query: no relevant documents found for %q", user)
			}
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			fmt.Println(out.Answer)
			if len(out.Sources) > 0 {
				fmt.Printf("\nsources:\n")
				for _, s := range out.Sources {
					fmt.Printf("  %s\n", s)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Tenant whose index is searched")
	cmd.Flags().IntVarP(&limit, "limit", "k", 0, "Number of chunks to retrieve (0 = default)")
	cmd.Flags().StringVar(&scopeType, "scope-type", "", `Restrict retrieval: "provider" or "source"`)
	cmd.Flags().StringSliceVar(&scopeList, "scope", nil, "Provider or source ids for the scope")
	cmd.Flags().BoolVar(&noContext, "no-context", false, "Answer without retrieving documents")
	cmd.Flags().StringVar(&endSeparator, "end-separator", "", "Stop sequence for generation")

	return cmd
}
