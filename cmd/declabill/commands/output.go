package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/declabill/declabill/pkg/billing"
	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/policy"
)

var actionSymbols = map[engine.OperationType]string{
	engine.OperationCreate:     "+",
	engine.OperationUpdate:     "~",
	engine.OperationNoop:       "=",
	engine.OperationDelete:     "-",
	engine.OperationTransition: ">",
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPlan writes the plan, one step per line, followed by its counts.
// Noop steps are shown only when all is set.
func printPlan(w io.Writer, plan *billing.Plan, all bool) {
	steps := plan.Changes()
	if all {
		steps = plan.Steps
	}
	if len(steps) == 0 {
		fmt.Fprintln(w, "No changes. The billing account matches the desired state.")
		return
	}

	for _, step := range steps {
		fmt.Fprintf(w, "  %s %s\n", actionSymbols[step.Action], step)
	}

	counts := plan.Counts()
	actions := make([]string, 0, len(counts))
	for action := range counts {
		actions = append(actions, string(action))
	}
	sort.Strings(actions)

	fmt.Fprintf(w, "\nPlan (%s):", plan.Mode)
	for _, action := range actions {
		fmt.Fprintf(w, " %d %s", counts[engine.OperationType(action)], action)
	}
	fmt.Fprintln(w)
}

func printPolicyResult(w io.Writer, result *policy.PolicyResult) {
	for _, v := range result.Violations {
		fmt.Fprintf(w, "DENY  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
	}
	for _, v := range result.Warnings {
		fmt.Fprintf(w, "WARN  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "ERROR %s\n", e)
	}
}

func printInvoice(w io.Writer, inv *billing.Invoice) {
	fmt.Fprintf(w, "Invoice %s\n", inv.ID)
	fmt.Fprintf(w, "  exid:     %s\n", inv.Exid)
	fmt.Fprintf(w, "  status:   %s\n", inv.Status)
	fmt.Fprintf(w, "  total:    %s %s\n", inv.Total().StringFixed(2), inv.Currency)
	if inv.DueDate != nil {
		fmt.Fprintf(w, "  due:      %s\n", inv.DueDate.Format("2006-01-02"))
	}
	if inv.PortalURL != nil {
		fmt.Fprintf(w, "  portal:   %s\n", *inv.PortalURL)
	}
	if inv.PDFURL != nil {
		fmt.Fprintf(w, "  pdf:      %s\n", *inv.PDFURL)
	}
}
