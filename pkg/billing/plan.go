package billing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/declabill/declabill/pkg/engine"
)

// InvoiceTarget is the lifecycle state a desired invoice should reach.
type InvoiceTarget string

const (
	TargetDraft InvoiceTarget = "draft"
	TargetOpen  InvoiceTarget = "open"
	TargetPaid  InvoiceTarget = "paid"
	TargetVoid  InvoiceTarget = "void"

	// TargetSent opens the invoice and sends it to the customer once, when
	// this apply is the one opening it.
	TargetSent InvoiceTarget = "sent"
)

// Validate checks if the target is valid. The empty target means draft.
func (t InvoiceTarget) Validate() error {
	switch t {
	case "", TargetDraft, TargetOpen, TargetPaid, TargetVoid, TargetSent:
		return nil
	default:
		return fmt.Errorf("invalid invoice target: %s", t)
	}
}

// Verbs returns the lifecycle verbs leading from current to the target.
// A target behind current, e.g. open for a paid invoice, needs no verb.
func (t InvoiceTarget) Verbs(current engine.InvoiceStatus) []engine.LifecycleVerb {
	var after engine.LifecycleVerb
	switch t {
	case TargetPaid:
		after = engine.VerbCharge
	case TargetVoid:
		after = engine.VerbVoid
	case TargetSent:
		after = engine.VerbSend
	case TargetOpen:
	default:
		return nil
	}

	switch current {
	case engine.InvoiceStatusDraft:
		if after == "" {
			return []engine.LifecycleVerb{engine.VerbOpen}
		}
		return []engine.LifecycleVerb{engine.VerbOpen, after}
	case engine.InvoiceStatusOpen:
		if after == "" || after == engine.VerbSend {
			return nil
		}
		return []engine.LifecycleVerb{after}
	default:
		return nil
	}
}

// Desired is a complete desired state: every entity the caller wants to
// exist, applied in the order products, customers, invoices.
type Desired struct {
	Products  []Product
	Customers []Customer
	Invoices  []DesiredInvoice
}

// DesiredInvoice is an invoice, its exact item list and its target state.
// A nil Items leaves the items of the invoice untouched.
type DesiredInvoice struct {
	Invoice Invoice
	Items   []InvoiceItem
	Target  InvoiceTarget
}

// Step is one planned change.
type Step struct {
	Kind     string               `json:"kind"`
	Key      string               `json:"key"`
	Action   engine.OperationType `json:"action"`
	Verb     string               `json:"verb,omitempty"`
	EntityID string               `json:"entityId,omitempty"`
	Parent   string               `json:"parent,omitempty"`
}

// String implements fmt.Stringer.
func (s Step) String() string {
	out := fmt.Sprintf("%-10s %-12s %s", s.Action, s.Kind, s.Key)
	if s.Verb != "" {
		out += " (" + s.Verb + ")"
	}
	if s.EntityID != "" {
		out += " [" + s.EntityID + "]"
	}
	return out
}

// Plan lists the changes an apply makes, in execution order.
type Plan struct {
	Mode  engine.ApplyMode `json:"mode"`
	Steps []Step           `json:"steps"`
}

// Changes returns the steps that write to the provider.
func (p *Plan) Changes() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Action.IsMutating() {
			out = append(out, s)
		}
	}
	return out
}

// Counts returns the number of steps per action.
func (p *Plan) Counts() map[engine.OperationType]int {
	out := make(map[engine.OperationType]int)
	for _, s := range p.Steps {
		out[s.Action]++
	}
	return out
}

// Guard vets a plan before anything is written. A non-nil error aborts
// the apply.
type Guard interface {
	Check(ctx context.Context, plan *Plan) error
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func(ctx context.Context, plan *Plan) error

// Check calls f.
func (f GuardFunc) Check(ctx context.Context, plan *Plan) error { return f(ctx, plan) }

// Plan resolves every desired entity and reports what Apply would do
// without writing anything.
func (s *Service) Plan(ctx context.Context, d *Desired, mode engine.ApplyMode) (*Plan, error) {
	if err := mode.Validate(); err != nil {
		return nil, engine.NewValidationError(err.Error())
	}
	plan := &Plan{Mode: mode}

	for i := range d.Products {
		p := &d.Products[i]
		action, found, err := s.products.Plan(ctx, p, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to plan product %s: %w", p.ID, err)
		}
		plan.Steps = append(plan.Steps, Step{Kind: KindProduct, Key: p.ID, Action: action, EntityID: productID(found)})
	}

	for i := range d.Customers {
		c := &d.Customers[i]
		action, found, err := s.customers.Plan(ctx, c, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to plan customer %s: %w", c.Email, err)
		}
		step := Step{Kind: KindCustomer, Key: c.Email, Action: action}
		if found != nil {
			step.EntityID = found.ID
		}
		plan.Steps = append(plan.Steps, step)
	}

	for i := range d.Invoices {
		steps, err := s.planInvoice(ctx, &d.Invoices[i])
		if err != nil {
			return nil, fmt.Errorf("failed to plan invoice %s: %w", d.Invoices[i].Invoice.Exid, err)
		}
		plan.Steps = append(plan.Steps, steps...)
	}
	return plan, nil
}

func (s *Service) planInvoice(ctx context.Context, di *DesiredInvoice) ([]Step, error) {
	inv := &di.Invoice
	if err := di.Target.Validate(); err != nil {
		return nil, engine.NewValidationError(err.Error()).WithResource(KindInvoice)
	}

	var found *Invoice
	customer, err := s.GetCustomer(ctx, inv.Customer)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		if found, err = s.GetInvoice(ctx, InvoiceByExid(CustomerByID(customer.ID), inv.Exid)); err != nil {
			return nil, err
		}
	}

	var steps []Step
	status := engine.InvoiceStatusDraft
	if found == nil {
		steps = append(steps, Step{Kind: KindInvoice, Key: inv.Exid, Action: engine.OperationCreate})
		for _, it := range di.Items {
			steps = append(steps, Step{Kind: KindInvoiceItem, Key: it.Exid, Action: engine.OperationCreate, Parent: inv.Exid})
		}
	} else {
		status = found.Status
		steps = append(steps, Step{Kind: KindInvoice, Key: inv.Exid, Action: engine.OperationNoop, EntityID: found.ID})
		if di.Items != nil && status == engine.InvoiceStatusDraft {
			diff, err := s.reconciler.Diff(ctx, itemParent{ref: InvoiceByID(found.ID), id: found.ID}, di.Items)
			if err != nil {
				return nil, err
			}
			for _, it := range diff.Delete {
				steps = append(steps, Step{Kind: KindInvoiceItem, Key: it.Exid, Action: engine.OperationDelete, EntityID: it.ID, Parent: inv.Exid})
			}
			for _, it := range diff.Update {
				steps = append(steps, Step{Kind: KindInvoiceItem, Key: it.Exid, Action: engine.OperationUpdate, Parent: inv.Exid})
			}
			for _, it := range diff.Create {
				steps = append(steps, Step{Kind: KindInvoiceItem, Key: it.Exid, Action: engine.OperationCreate, Parent: inv.Exid})
			}
		}
	}

	for _, verb := range di.Target.Verbs(status) {
		steps = append(steps, Step{
			Kind:     KindInvoice,
			Key:      inv.Exid,
			Action:   engine.OperationTransition,
			Verb:     string(verb),
			EntityID: invoiceID(found),
		})
	}
	return steps, nil
}

// Apply vets the plan of d with guard, which may be nil, then converges the
// provider to d. Items of invoices that already left draft are frozen by
// the provider and are left alone.
func (s *Service) Apply(ctx context.Context, d *Desired, mode engine.ApplyMode, guard Guard) (*Plan, error) {
	plan, err := s.Plan(ctx, d, mode)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard.Check(ctx, plan); err != nil {
			return plan, err
		}
	}

	for i := range d.Products {
		if _, err := s.SetProduct(ctx, &d.Products[i], mode); err != nil {
			return plan, err
		}
	}
	for i := range d.Customers {
		if _, err := s.SetCustomer(ctx, &d.Customers[i], mode); err != nil {
			return plan, err
		}
	}
	for i := range d.Invoices {
		if err := s.applyInvoice(ctx, &d.Invoices[i]); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

func (s *Service) applyInvoice(ctx context.Context, di *DesiredInvoice) error {
	logger := log.Ctx(ctx)

	inv, err := s.GetInvoice(ctx, InvoiceByExid(di.Invoice.Customer, di.Invoice.Exid))
	if err != nil {
		return err
	}
	if inv == nil || inv.Status == engine.InvoiceStatusDraft {
		if inv, err = s.GenInvoiceDraft(ctx, &di.Invoice); err != nil {
			return err
		}
		if di.Items != nil {
			if _, err := s.SetInvoiceItems(ctx, InvoiceByID(inv.ID), di.Items); err != nil {
				return err
			}
		}
	} else if di.Items != nil {
		logger.Debug().
			Str("invoice", inv.ID).
			Str("status", string(inv.Status)).
			Msg("Invoice already issued, leaving its items alone")
	}

	for _, verb := range di.Target.Verbs(inv.Status) {
		if _, err := s.Transition(ctx, InvoiceByID(inv.ID), verb); err != nil {
			return err
		}
	}
	return nil
}

func productID(p *Product) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func invoiceID(i *Invoice) string {
	if i == nil {
		return ""
	}
	return i.ID
}
