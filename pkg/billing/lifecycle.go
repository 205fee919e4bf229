package billing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/remote"
)

// OpenInvoice finalizes a draft invoice. autoAdvance is optional. An
// invoice that is already open is returned as is.
func (s *Service) OpenInvoice(ctx context.Context, ref InvoiceRef, autoAdvance *bool) (*Invoice, error) {
	return s.transition(ctx, ref, engine.VerbOpen, func(ctx context.Context, id string) (*remote.Invoice, error) {
		return s.api.FinalizeInvoice(ctx, id, &remote.FinalizeParams{AutoAdvance: autoAdvance})
	})
}

// ChargeInvoice pays an open invoice. A paid invoice is returned as is.
func (s *Service) ChargeInvoice(ctx context.Context, ref InvoiceRef) (*Invoice, error) {
	return s.transition(ctx, ref, engine.VerbCharge, s.api.PayInvoice)
}

// VoidInvoice voids an open invoice. A void invoice is returned as is.
func (s *Service) VoidInvoice(ctx context.Context, ref InvoiceRef) (*Invoice, error) {
	return s.transition(ctx, ref, engine.VerbVoid, s.api.VoidInvoice)
}

// SendInvoice notifies the customer of an open invoice. The status does
// not change, so sending twice sends twice.
func (s *Service) SendInvoice(ctx context.Context, ref InvoiceRef) (*Invoice, error) {
	return s.transition(ctx, ref, engine.VerbSend, s.api.SendInvoice)
}

// Transition runs verb against the invoice ref points at.
func (s *Service) Transition(ctx context.Context, ref InvoiceRef, verb engine.LifecycleVerb) (*Invoice, error) {
	switch verb {
	case engine.VerbOpen:
		return s.OpenInvoice(ctx, ref, nil)
	case engine.VerbCharge:
		return s.ChargeInvoice(ctx, ref)
	case engine.VerbVoid:
		return s.VoidInvoice(ctx, ref)
	case engine.VerbSend:
		return s.SendInvoice(ctx, ref)
	default:
		return nil, engine.NewValidationError(fmt.Sprintf("unknown lifecycle verb %q", verb)).
			WithResource(KindInvoice)
	}
}

type invoiceAction func(ctx context.Context, id string) (*remote.Invoice, error)

// transition re-fetches the invoice, decides with engine.Transition and
// calls action only when the invoice is in the verb's source status.
func (s *Service) transition(ctx context.Context, ref InvoiceRef, verb engine.LifecycleVerb, action invoiceAction) (*Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "billing.invoice."+string(verb), trace.WithAttributes(
		attribute.String("invoice.verb", string(verb)),
		attribute.String("invoice.ref", ref.String()),
	))
	defer span.End()

	start := time.Now()
	rec := engine.OperationRecord{
		Kind:   KindInvoice,
		Action: engine.OperationTransition,
		Detail: string(verb),
	}
	fail := func(err error) (*Invoice, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.record(ctx, rec, start, nil, err)
		return nil, err
	}

	current, err := s.invoices.Resolver().Resolve(ctx, ref)
	if err != nil {
		return fail(err)
	}
	if current == nil {
		return fail(engine.NewValidationError(
			fmt.Sprintf("can not %s an invoice that does not exist", verb)).
			WithResource(KindInvoice).
			WithOperation(string(verb)).
			WithDetail("ref", ref.String()))
	}
	rec.EntityID = current.ID
	rec.UniqueKey = current.Exid
	span.SetAttributes(
		attribute.String("entity.id", current.ID),
		attribute.String("invoice.status", string(current.Status)),
	)

	decision, err := engine.Transition(verb, current.Status)
	if err != nil {
		return fail(err)
	}
	if decision == engine.TransitionAlreadyDone {
		rec.Action = engine.OperationNoop
		s.record(ctx, rec, start, current, nil)
		return current, nil
	}

	raw, err := action(ctx, current.ID)
	if err != nil {
		return fail(err)
	}
	out, err := castInvoice(raw)
	if err != nil {
		return fail(err)
	}
	s.record(ctx, rec, start, out, nil)
	return out, nil
}
