package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/declabill/declabill/pkg/config"
	"github.com/declabill/declabill/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		kind   string
		entity string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show journaled runs and operations",
		Long: `Show the runs journaled in the state database, newest first.

With a run id, list the operations of that run. With --kind or --entity,
list matching operations across runs.`,
		Example: `  # Recent runs
  declabill history

  # Operations of one run
  declabill history 3f0c2a4e-...

  # Everything that happened to one invoice
  declabill history --entity in_123`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if settings.StatePath == "" {
				return errors.New("journaling is disabled; set --state or " + config.EnvStatePath)
			}
			if _, err := os.Stat(settings.StatePath); err != nil {
				return fmt.Errorf("no journal at %s: %w", settings.StatePath, err)
			}

			store, err := openStore(ctx, settings.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 && kind == "" && entity == "" {
				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(runs)
				}
				printRuns(runs)
				return nil
			}

			filter := stores.OperationFilter{Limit: limit}
			if len(args) == 1 {
				if _, err := store.GetRun(ctx, args[0]); err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				filter.RunID = &args[0]
			}
			if kind != "" {
				filter.Kind = &kind
			}
			if entity != "" {
				filter.EntityID = &entity
			}

			ops, err := store.ListOperations(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(ops)
			}
			printOperations(ops)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of rows")
	cmd.Flags().StringVar(&kind, "kind", "", "only operations on this entity kind")
	cmd.Flags().StringVar(&entity, "entity", "", "only operations on this entity id")

	return cmd
}

func printRuns(runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs journaled yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tSTARTED\tDURATION\tSOURCE")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Command, r.Status, r.StartedAt.Local().Format(time.DateTime), duration, r.Source)
	}
	_ = w.Flush()
}

func printOperations(ops []*stores.Operation) {
	if len(ops) == 0 {
		fmt.Println("No operations found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tACTION\tDETAIL\tENTITY\tKEY\tSTATUS")
	for _, op := range ops {
		status := string(op.Status)
		if op.Error != nil {
			status += ": " + *op.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			op.CreatedAt.Local().Format(time.DateTime), op.Kind, op.Action, op.Detail, op.EntityID, op.UniqueKey, status)
	}
	_ = w.Flush()
}
