package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var (
		mode string
		vars map[string]string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "plan <path>...",
		Short: "Show what apply would change",
		Long: `Resolve every desired entity against the billing provider and print the plan.

The plan lists, in execution order:
  - Products, customers and invoices to create or update
  - Invoice items to create, update or delete (exact set per draft invoice)
  - Lifecycle transitions (open, charge, void, send) towards each invoice target

Nothing is written to the provider. Policies are evaluated and their
violations reported, but do not fail the command.`,
		Example: `  # Plan a directory of documents
  declabill plan ./billing

  # Include unchanged entities
  declabill plan --all ./billing

  # Plan as an upsert regardless of the document mode
  declabill plan --mode upsert billing.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), settings, appOptions{remote: true, policies: true})
			if err != nil {
				return err
			}
			defer a.Close()

			parsed, desired, err := loadDesired(ctx, vars, args...)
			if err != nil {
				return err
			}
			m, err := resolveMode(mode, &parsed.Document)
			if err != nil {
				return err
			}

			log.Info().
				Strs("sources", parsed.SourceFiles).
				Str("mode", string(m)).
				Msg("Planning")

			plan, err := a.svc.Plan(ctx, desired, m)
			if err != nil {
				return err
			}
			result, err := a.policies.EvaluatePlan(ctx, plan, "plan")
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"plan":   plan,
					"policy": result,
				})
			}

			printPlan(os.Stdout, plan, all)
			if len(result.Violations)+len(result.Warnings)+len(result.Errors) > 0 {
				fmt.Println()
				printPolicyResult(os.Stdout, result)
			}
			if !result.Allowed {
				fmt.Println("\nApply would be denied by policy.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "override the document mode (finsert or upsert)")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "variables passed to Starlark scripts (key=value)")
	cmd.Flags().BoolVar(&all, "all", false, "include unchanged entities")

	return cmd
}
