package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/declabill/declabill/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var vars map[string]string

	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate desired-state documents",
		Long: `Validate desired-state documents without contacting the billing provider.

This command checks:
  - CUE, YAML and JSON syntax, and Starlark evaluation
  - Schema conformance and field constraints
  - Duplicate products, customers, invoices and items across files
  - That every configured policy compiles`,
		Example: `  # Validate a directory of documents
  declabill validate ./billing

  # Validate a Starlark generator with variables
  declabill validate --var month=2024-05 invoices.star`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Strs("sources", args).
				Msg("Validating desired state")

			a, ctx, err := newApp(ctx, settings, appOptions{policies: true})
			if err != nil {
				return err
			}
			defer a.Close()

			parsed, desired, err := loadDesired(ctx, vars, args...)
			if err != nil {
				var lerr *config.LoadError
				if !errors.As(err, &lerr) {
					return err
				}
				if jsonOutput {
					_ = printJSON(parsed)
				} else {
					for _, ve := range lerr.Errors {
						fmt.Fprintln(os.Stderr, ve.Error())
					}
				}
				return fmt.Errorf("validation failed with %d errors", len(lerr.Errors))
			}

			if jsonOutput {
				return printJSON(parsed)
			}

			fmt.Printf("Valid: %d products, %d customers, %d invoices from %d files\n",
				len(desired.Products), len(desired.Customers), len(desired.Invoices), len(parsed.SourceFiles))
			fmt.Printf("Mode: %s, %d policies loaded\n", parsed.Document.ApplyMode(), len(a.policies.ListPolicies()))
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "variables passed to Starlark scripts (key=value)")

	return cmd
}
