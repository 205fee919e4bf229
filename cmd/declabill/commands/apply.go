package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/declabill/declabill/pkg/billing"
	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/policy"
)

// applyFlags are shared by apply and watch.
type applyFlags struct {
	mode       string
	vars       map[string]string
	allowVoid  bool
	maxDeletes int
}

func (f *applyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "", "override the document mode (finsert or upsert)")
	cmd.Flags().StringToStringVar(&f.vars, "var", nil, "variables passed to Starlark scripts (key=value)")
	cmd.Flags().BoolVar(&f.allowVoid, "allow-void", false, "let policies allow voids in production")
	cmd.Flags().IntVar(&f.maxDeletes, "max-deletes", policy.DefaultMaxDeletes, "deletes a plan may carry before it is denied")
}

func (f *applyFlags) policyMetadata() map[string]interface{} {
	return map[string]interface{}{
		"allow_void":  f.allowVoid,
		"max_deletes": f.maxDeletes,
	}
}

func newApplyCommand() *cobra.Command {
	var (
		flags       applyFlags
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "apply <path>...",
		Short: "Converge the billing account to the desired state",
		Long: `Converge the billing provider to the desired state.

This command:
  - Plans the changes and prompts for approval (unless --auto-approve)
  - Vets the plan with the built-in and configured policies
  - Applies products, then customers, then draft invoices and their items
  - Moves every invoice to its lifecycle target
  - Journals the run and every decision to the state database`,
		Example: `  # Apply with an approval prompt
  declabill apply ./billing

  # Apply without prompting, against the in-memory provider
  declabill apply --auto-approve --in-memory billing.yaml

  # Allow voids in production
  declabill apply --environment production --allow-void ./billing`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), settings, appOptions{
				remote:         true,
				policies:       true,
				journal:        true,
				policyMetadata: flags.policyMetadata(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if !autoApprove {
				ok, err := a.confirm(ctx, &flags, args, os.Stdin)
				if err != nil || !ok {
					return err
				}
			}

			plan, err := a.applySources(ctx, "apply", &flags, args)
			if plan != nil && jsonOutput {
				_ = printJSON(plan)
			}
			if errors.Is(err, policy.ErrDenied) {
				return fmt.Errorf("apply denied: %w", err)
			}
			if err != nil {
				return err
			}

			if !jsonOutput {
				counts := plan.Counts()
				fmt.Printf("Apply complete: %d created, %d updated, %d deleted, %d transitions.\n",
					counts[engine.OperationCreate], counts[engine.OperationUpdate],
					counts[engine.OperationDelete], counts[engine.OperationTransition])
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")

	return cmd
}

// applySources loads the sources and applies them as one journaled run.
func (a *app) applySources(ctx context.Context, command string, flags *applyFlags, sources []string) (*billing.Plan, error) {
	parsed, desired, err := loadDesired(ctx, flags.vars, sources...)
	if err != nil {
		return nil, err
	}
	mode, err := resolveMode(flags.mode, &parsed.Document)
	if err != nil {
		return nil, err
	}

	log.Info().
		Strs("sources", parsed.SourceFiles).
		Str("mode", string(mode)).
		Msg("Applying desired state")

	return a.run(ctx, command, strings.Join(sources, ","), string(mode), func(ctx context.Context) (*billing.Plan, error) {
		return a.svc.Apply(ctx, desired, mode, a.guard())
	})
}

// confirm prints the plan and asks for approval. It returns true without
// asking when there is nothing to change.
func (a *app) confirm(ctx context.Context, flags *applyFlags, sources []string, in io.Reader) (bool, error) {
	parsed, desired, err := loadDesired(ctx, flags.vars, sources...)
	if err != nil {
		return false, err
	}
	mode, err := resolveMode(flags.mode, &parsed.Document)
	if err != nil {
		return false, err
	}
	plan, err := a.svc.Plan(ctx, desired, mode)
	if err != nil {
		return false, err
	}
	if len(plan.Changes()) == 0 {
		return true, nil
	}

	printPlan(os.Stdout, plan, false)
	fmt.Print("\nApply these changes? Only 'yes' is accepted: ")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if strings.TrimSpace(answer) != "yes" {
		fmt.Println("Apply cancelled.")
		return false, nil
	}
	return true, nil
}
