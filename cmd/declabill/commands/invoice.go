package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/declabill/declabill/pkg/billing"
	"github.com/declabill/declabill/pkg/engine"
)

// invoiceSelector picks one invoice by remote id or by (customer, exid).
type invoiceSelector struct {
	id       string
	customer string
	exid     string
}

func (s *invoiceSelector) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.id, "id", "", "invoice id")
	cmd.Flags().StringVar(&s.customer, "customer", "", "customer email (with --exid)")
	cmd.Flags().StringVar(&s.exid, "exid", "", "invoice external id (with --customer)")
	cmd.MarkFlagsMutuallyExclusive("id", "customer")
	cmd.MarkFlagsMutuallyExclusive("id", "exid")
	cmd.MarkFlagsRequiredTogether("customer", "exid")
}

func (s *invoiceSelector) ref() (billing.InvoiceRef, error) {
	switch {
	case s.id != "":
		return billing.InvoiceByID(s.id), nil
	case s.customer != "" && s.exid != "":
		return billing.InvoiceByExid(billing.CustomerByEmail(s.customer), s.exid), nil
	default:
		return billing.InvoiceRef{}, fmt.Errorf("either --id or --customer with --exid is required")
	}
}

func (s *invoiceSelector) String() string {
	if s.id != "" {
		return s.id
	}
	return s.customer + "/" + s.exid
}

func newInvoiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Inspect an invoice or move it through its lifecycle",
		Long: `Run one lifecycle verb on an invoice, outside of any desired-state document.

Opening an open invoice or voiding a void one succeeds without calling the
provider; send always sends. Illegal transitions (charging a draft, voiding
a paid invoice) fail.`,
	}

	cmd.AddCommand(newInvoiceGetCommand())
	cmd.AddCommand(newInvoiceVerbCommand(engine.VerbOpen, "Finalize a draft invoice"))
	cmd.AddCommand(newInvoiceVerbCommand(engine.VerbCharge, "Charge an open invoice"))
	cmd.AddCommand(newInvoiceVerbCommand(engine.VerbVoid, "Void an open invoice"))
	cmd.AddCommand(newInvoiceVerbCommand(engine.VerbSend, "Send an open invoice to its customer"))

	return cmd
}

func newInvoiceGetCommand() *cobra.Command {
	var sel invoiceSelector

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show an invoice",
		Example: `  declabill invoice get --id in_123
  declabill invoice get --customer ada@example.com --exid 2024-05`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := sel.ref()
			if err != nil {
				return err
			}

			a, ctx, err := newApp(cmd.Context(), settings, appOptions{remote: true})
			if err != nil {
				return err
			}
			defer a.Close()

			inv, err := a.svc.GetInvoice(ctx, ref)
			if err != nil {
				return err
			}
			if inv == nil {
				return fmt.Errorf("invoice %s not found", sel.String())
			}

			if jsonOutput {
				return printJSON(inv)
			}
			printInvoice(os.Stdout, inv)
			return nil
		},
	}

	sel.register(cmd)
	return cmd
}

func newInvoiceVerbCommand(verb engine.LifecycleVerb, short string) *cobra.Command {
	var (
		sel         invoiceSelector
		autoAdvance bool
	)

	cmd := &cobra.Command{
		Use:   string(verb),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := sel.ref()
			if err != nil {
				return err
			}

			a, ctx, err := newApp(cmd.Context(), settings, appOptions{remote: true, journal: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var inv *billing.Invoice
			_, err = a.run(ctx, "invoice."+string(verb), sel.String(), "", func(ctx context.Context) (*billing.Plan, error) {
				var terr error
				if verb == engine.VerbOpen && cmd.Flags().Changed("auto-advance") {
					inv, terr = a.svc.OpenInvoice(ctx, ref, &autoAdvance)
				} else {
					inv, terr = a.svc.Transition(ctx, ref, verb)
				}
				return nil, terr
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(inv)
			}
			printInvoice(os.Stdout, inv)
			return nil
		},
	}

	sel.register(cmd)
	if verb == engine.VerbOpen {
		cmd.Flags().BoolVar(&autoAdvance, "auto-advance", false, "let the provider advance the invoice automatically")
	}
	return cmd
}
