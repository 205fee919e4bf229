package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/remote"
	"github.com/declabill/declabill/pkg/telemetry"
)

const tracerName = "github.com/declabill/declabill/pkg/billing"

// Config configures a Service.
type Config struct {
	// Locker serializes finsert and upsert calls per unique key. Defaults
	// to engine.NopLocker, which accepts the divergent-payload race.
	Locker engine.KeyLocker

	// Journal receives every decision. Optional.
	Journal engine.Journal

	// ItemQueue serializes invoice item upserts. Every Service sharing a
	// provider account should share one queue. A private queue is created
	// when nil.
	ItemQueue *engine.SerialQueue
}

// Service is the declarative surface over the billing provider.
type Service struct {
	api     remote.API
	journal engine.Journal
	tracer  trace.Tracer

	customers *engine.Applier[Customer, CustomerKey]
	products  *engine.Applier[Product, ProductKey]
	coupons   *engine.Applier[Coupon, CouponKey]
	invoices  *engine.Applier[Invoice, InvoiceKey]
	items     *engine.Applier[InvoiceItem, InvoiceItemKey]

	itemRepo   *invoiceItemRepo
	reconciler *engine.CollectionReconciler[itemParent, InvoiceItem]
	queue      *engine.SerialQueue
	ownsQueue  bool
}

// NewService creates a service over api.
func NewService(api remote.API, cfg Config) *Service {
	acfg := engine.ApplierConfig{Locker: cfg.Locker, Journal: cfg.Journal}

	s := &Service{
		api:     api,
		journal: cfg.Journal,
		tracer:  otel.Tracer(tracerName),
		queue:   cfg.ItemQueue,
	}
	if s.queue == nil {
		s.queue = engine.NewSerialQueue()
		s.ownsQueue = true
	}

	s.customers = engine.NewApplier(CustomerSchema(), engine.Repository[Customer, CustomerKey](&customerRepo{api: api}), acfg)
	s.products = engine.NewApplier(ProductSchema(), engine.Repository[Product, ProductKey](&productRepo{api: api}), acfg)
	s.coupons = engine.NewApplier(CouponSchema(), engine.Repository[Coupon, CouponKey](&couponRepo{api: api}), acfg)
	s.invoices = engine.NewApplier(InvoiceSchema(), engine.Repository[Invoice, InvoiceKey](&invoiceRepo{
		api:       api,
		customers: s.customers.Resolver(),
	}), acfg)
	s.itemRepo = &invoiceItemRepo{
		api:      api,
		invoices: s.invoices.Resolver(),
		products: s.products.Resolver(),
		coupons:  s.coupons,
	}
	s.items = engine.NewApplier(InvoiceItemSchema(), engine.Repository[InvoiceItem, InvoiceItemKey](s.itemRepo), acfg)
	s.reconciler = engine.NewCollectionReconciler(KindInvoiceItem,
		engine.Collection[itemParent, InvoiceItem](&itemCollection{s: s}),
		func(it InvoiceItem) string { return it.Exid },
		engine.ReconcilerConfig{Queue: s.queue, Journal: cfg.Journal},
	)
	return s
}

// Close stops the item queue if the service created it.
func (s *Service) Close() {
	if s.ownsQueue {
		s.queue.Close()
	}
}

// GetCustomer returns the customer ref points at, nil when none exists.
func (s *Service) GetCustomer(ctx context.Context, ref CustomerRef) (*Customer, error) {
	return s.customers.Resolver().Resolve(ctx, ref)
}

// SetCustomer finserts or upserts a customer by email.
func (s *Service) SetCustomer(ctx context.Context, desired *Customer, mode engine.ApplyMode) (*Customer, error) {
	if err := Validate(KindCustomer, desired); err != nil {
		return nil, err
	}
	return s.customers.Apply(ctx, desired, mode)
}

// GetProduct returns the product ref points at, nil when none exists.
func (s *Service) GetProduct(ctx context.Context, ref ProductRef) (*Product, error) {
	return s.products.Resolver().Resolve(ctx, ref)
}

// SetProduct finserts or upserts a product by id. Upserting a different
// price creates a new default price; prices themselves never change.
func (s *Service) SetProduct(ctx context.Context, desired *Product, mode engine.ApplyMode) (*Product, error) {
	if err := Validate(KindProduct, desired); err != nil {
		return nil, err
	}
	return s.products.Apply(ctx, desired, mode)
}

// InsertCoupon always creates a new coupon.
func (s *Service) InsertCoupon(ctx context.Context, desired *Coupon) (*Coupon, error) {
	if err := Validate(KindCoupon, desired); err != nil {
		return nil, err
	}
	return s.coupons.Insert(ctx, desired)
}

// GetInvoice returns the invoice ref points at, nil when none exists.
// Lookups by (customer, exid) ignore voided invoices.
func (s *Service) GetInvoice(ctx context.Context, ref InvoiceRef) (*Invoice, error) {
	return s.invoices.Resolver().Resolve(ctx, ref)
}

// GenInvoiceDraft returns the draft invoice of (customer, exid), creating
// it when none exists. An invoice that already left draft is an error.
func (s *Service) GenInvoiceDraft(ctx context.Context, desired *Invoice) (*Invoice, error) {
	if err := Validate(KindInvoice, desired); err != nil {
		return nil, err
	}
	inv, err := s.invoices.Finsert(ctx, desired)
	if err != nil {
		return nil, err
	}
	if inv.Status != engine.InvoiceStatusDraft {
		return nil, engine.NewValidationError("can not draft an invoice that was already issued").
			WithResource(KindInvoice).
			WithDetail("id", inv.ID).
			WithDetail("status", string(inv.Status))
	}
	return inv, nil
}

// GetInvoiceItem returns the item ref points at, nil when none exists.
func (s *Service) GetInvoiceItem(ctx context.Context, ref InvoiceItemRef) (*InvoiceItem, error) {
	return s.items.Resolver().Resolve(ctx, ref)
}

// GetInvoiceItems lists the items of an invoice, newest first. It returns
// nil when the invoice does not exist.
func (s *Service) GetInvoiceItems(ctx context.Context, ref InvoiceRef) ([]InvoiceItem, error) {
	inv, err := s.GetInvoice(ctx, ref)
	if err != nil || inv == nil {
		return nil, err
	}
	return s.itemRepo.List(ctx, inv.ID)
}

// SetInvoiceItem finserts or upserts one invoice item by (invoice, exid).
// Discount coupons without an id are inserted first.
func (s *Service) SetInvoiceItem(ctx context.Context, desired *InvoiceItem, mode engine.ApplyMode) (*InvoiceItem, error) {
	if err := Validate(KindInvoiceItem, desired); err != nil {
		return nil, err
	}
	return s.items.Apply(ctx, desired, mode)
}

// DelInvoiceItem deletes the item ref points at. A missing item is an
// error.
func (s *Service) DelInvoiceItem(ctx context.Context, ref InvoiceItemRef) error {
	start := time.Now()
	rec := engine.OperationRecord{Kind: KindInvoiceItem, Action: engine.OperationDelete}

	item, err := s.GetInvoiceItem(ctx, ref)
	if err == nil && item == nil {
		err = engine.NewValidationError("can not delete an invoice item that does not exist").
			WithResource(KindInvoiceItem).
			WithDetail("ref", ref.String())
	}
	if err == nil {
		rec.EntityID = item.ID
		rec.UniqueKey = item.Exid
		err = s.itemRepo.Delete(ctx, item.ID)
	}
	s.record(ctx, rec, start, nil, err)
	return err
}

// SetInvoiceItems makes the items of an invoice exactly equal desired,
// identified by exid. Items are displayed in desired order.
func (s *Service) SetInvoiceItems(ctx context.Context, ref InvoiceRef, desired []InvoiceItem) (*engine.ReconcileSummary[InvoiceItem], error) {
	for i := range desired {
		if err := Validate(KindInvoiceItem, &desired[i]); err != nil {
			return nil, err
		}
	}
	parent, err := s.itemParent(ctx, ref)
	if err != nil {
		return nil, err
	}

	summary, err := s.reconciler.Reconcile(ctx, parent, desired)
	deleted, upserted := 0, 0
	if summary != nil {
		deleted, upserted = len(summary.Deleted), len(summary.Upserted)
	}
	telemetry.RecordReconcile(ctx, KindInvoiceItem, parent.id, deleted, upserted, err)
	return summary, err
}

// DiffInvoiceItems reports what SetInvoiceItems would change without
// writing anything. A missing invoice yields a diff creating every item.
func (s *Service) DiffInvoiceItems(ctx context.Context, ref InvoiceRef, desired []InvoiceItem) (*engine.CollectionDiff[InvoiceItem], error) {
	inv, err := s.GetInvoice(ctx, ref)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return &engine.CollectionDiff[InvoiceItem]{Create: desired}, nil
	}
	return s.reconciler.Diff(ctx, itemParent{ref: ref, id: inv.ID}, desired)
}

func (s *Service) itemParent(ctx context.Context, ref InvoiceRef) (itemParent, error) {
	inv, err := s.GetInvoice(ctx, ref)
	if err != nil {
		return itemParent{}, err
	}
	if inv == nil {
		return itemParent{}, engine.NewValidationError("can not resolve item.invoiceRef " + ref.String()).
			WithResource(KindInvoiceItem)
	}
	return itemParent{ref: ref, id: inv.ID}, nil
}

// record journals an operation the appliers do not cover.
func (s *Service) record(ctx context.Context, rec engine.OperationRecord, start time.Time, state any, err error) {
	rec.Duration = time.Since(start)
	rec.Err = err
	if state != nil {
		if raw, merr := json.Marshal(state); merr == nil {
			rec.State = raw
		}
	}

	logger := log.Ctx(ctx)
	switch {
	case err != nil:
		logger.Error().Err(err).
			Str("kind", rec.Kind).
			Str("action", string(rec.Action)).
			Str("detail", rec.Detail).
			Msg("Operation failed")
	case rec.Action.IsMutating():
		logger.Info().
			Str("kind", rec.Kind).
			Str("id", rec.EntityID).
			Str("action", string(rec.Action)).
			Str("detail", rec.Detail).
			Dur("duration", rec.Duration).
			Msg("Entity applied")
	default:
		logger.Debug().
			Str("kind", rec.Kind).
			Str("id", rec.EntityID).
			Str("detail", rec.Detail).
			Msg("Entity already in desired state")
	}

	if s.journal == nil {
		return
	}
	if jerr := s.journal.Record(ctx, rec); jerr != nil {
		logger.Warn().Err(jerr).Str("kind", rec.Kind).Msg("Failed to journal operation")
	}
}

// itemParent is an invoice as seen by the item reconciler: the ref the
// caller used, which items keep, and the resolved id used for listing.
type itemParent struct {
	ref InvoiceRef
	id  string
}

// String implements fmt.Stringer.
func (p itemParent) String() string { return fmt.Sprintf("%s(%s)", p.id, p.ref) }

// itemCollection exposes invoice items to the collection reconciler.
type itemCollection struct {
	s *Service
}

func (c *itemCollection) List(ctx context.Context, parent itemParent) ([]InvoiceItem, error) {
	return c.s.itemRepo.List(ctx, parent.id)
}

func (c *itemCollection) Delete(ctx context.Context, _ itemParent, item InvoiceItem) error {
	return c.s.itemRepo.Delete(ctx, item.ID)
}

func (c *itemCollection) Upsert(ctx context.Context, parent itemParent, item InvoiceItem) (InvoiceItem, error) {
	item.Invoice = parent.ref
	out, err := c.s.items.Upsert(ctx, &item)
	if err != nil {
		return InvoiceItem{}, err
	}
	return *out, nil
}
