package billing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/remote"
)

// missing turns a structured not-found into (nil, nil).
func missing[T any](v *T, err error) (*T, error) {
	if remote.IsNotFound(err) {
		return nil, nil
	}
	return v, err
}

// customerRepo adapts the remote API to engine.Repository for customers.
type customerRepo struct {
	api remote.API
}

func (r *customerRepo) Get(ctx context.Context, id string) (*Customer, error) {
	c, err := missing(r.api.GetCustomer(ctx, id))
	if err != nil || c == nil {
		return nil, err
	}
	return castCustomer(c)
}

func (r *customerRepo) FindByUnique(ctx context.Context, key CustomerKey) ([]Customer, error) {
	list, err := r.api.ListCustomers(ctx, &remote.CustomerListParams{Email: remote.String(key.Email)})
	if err != nil {
		return nil, err
	}
	out := make([]Customer, 0, len(list))
	for i := range list {
		c, err := castCustomer(&list[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *customerRepo) Create(ctx context.Context, desired *Customer, idemKey string) (*Customer, error) {
	c, err := r.api.CreateCustomer(ctx, &remote.CustomerParams{
		Email:       remote.String(desired.Email),
		Name:        desired.Name,
		Description: desired.Description,
		Phone:       desired.Phone,
		Metadata:    desired.Metadata,
	}, idemKey)
	if err != nil {
		return nil, err
	}
	return castCustomer(c)
}

func (r *customerRepo) Update(ctx context.Context, found, desired *Customer) (*Customer, error) {
	c, err := r.api.UpdateCustomer(ctx, found.ID, &remote.CustomerParams{
		Name:        desired.Name,
		Description: desired.Description,
		Phone:       desired.Phone,
		Metadata:    desired.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return castCustomer(c)
}

// productRepo adapts the remote API to engine.Repository for products.
type productRepo struct {
	api remote.API
}

func (r *productRepo) Get(ctx context.Context, id string) (*Product, error) {
	p, err := missing(r.api.GetProduct(ctx, id))
	if err != nil || p == nil {
		return nil, err
	}
	return castProduct(p)
}

func (r *productRepo) FindByUnique(ctx context.Context, key ProductKey) ([]Product, error) {
	p, err := r.Get(ctx, key.ID)
	if err != nil || p == nil {
		return nil, err
	}
	return []Product{*p}, nil
}

func (r *productRepo) Create(ctx context.Context, desired *Product, idemKey string) (*Product, error) {
	if desired.Price == nil {
		return nil, engine.NewValidationError("product " + desired.ID + " needs a price to be created").
			WithResource(KindProduct)
	}
	p, err := r.api.CreateProduct(ctx, &remote.ProductParams{
		ID:               remote.String(desired.ID),
		Name:             desired.Name,
		Active:           desired.Active,
		Description:      desired.Description,
		URL:              desired.URL,
		DefaultPriceData: &remote.PriceData{Currency: CurrencyUSD, UnitAmount: *desired.Price},
		Metadata:         desired.Metadata,
	}, idemKey)
	if err != nil {
		return nil, err
	}
	if !p.DefaultPrice.Expanded() {
		return r.Get(ctx, p.ID)
	}
	return castProduct(p)
}

// Update replaces the default price with a new one when the desired amount
// differs, then writes the other set fields.
func (r *productRepo) Update(ctx context.Context, found, desired *Product) (*Product, error) {
	params := &remote.ProductParams{
		Name:        desired.Name,
		Active:      desired.Active,
		Description: desired.Description,
		URL:         desired.URL,
		Metadata:    desired.Metadata,
	}
	if desired.Price != nil && (found.Price == nil || *found.Price != *desired.Price) {
		price, err := r.api.CreatePrice(ctx, &remote.PriceParams{
			Product:    found.ID,
			Currency:   CurrencyUSD,
			UnitAmount: *desired.Price,
		})
		if err != nil {
			return nil, err
		}
		log.Ctx(ctx).Debug().
			Str("product", found.ID).
			Str("price", price.ID).
			Int64("unit_amount", *desired.Price).
			Msg("Created replacement default price")
		params.DefaultPrice = remote.String(price.ID)
	}

	p, err := r.api.UpdateProduct(ctx, found.ID, params)
	if err != nil {
		return nil, err
	}
	if !p.DefaultPrice.Expanded() {
		return r.Get(ctx, p.ID)
	}
	return castProduct(p)
}

// couponRepo creates coupons. Coupons are never looked up by key.
type couponRepo struct {
	api remote.API
}

func (r *couponRepo) Get(context.Context, string) (*Coupon, error) {
	return nil, engine.NewValidationError("coupons can not be fetched").WithResource(KindCoupon)
}

func (r *couponRepo) FindByUnique(context.Context, CouponKey) ([]Coupon, error) {
	return nil, engine.NewValidationError("coupons have no unique key").WithResource(KindCoupon)
}

func (r *couponRepo) Create(ctx context.Context, desired *Coupon, idemKey string) (*Coupon, error) {
	params := &remote.CouponParams{
		Name:             desired.Name,
		Duration:         desired.Duration,
		DurationInMonths: desired.DurationInMonths,
		AmountOff:        desired.AmountOff,
		Metadata:         desired.Metadata,
	}
	if desired.PercentOff != nil {
		params.PercentOff = remote.Float64(desired.PercentOff.InexactFloat64())
	}
	if desired.AmountOff != nil {
		params.Currency = remote.String(CurrencyUSD)
	}
	c, err := r.api.CreateCoupon(ctx, params, idemKey)
	if err != nil {
		return nil, err
	}
	return castCoupon(c)
}

func (r *couponRepo) Update(context.Context, *Coupon, *Coupon) (*Coupon, error) {
	return nil, engine.NewValidationError("coupons can not be updated").WithResource(KindCoupon)
}

// invoiceRepo adapts the remote API to engine.Repository for invoices.
type invoiceRepo struct {
	api       remote.API
	customers *engine.Resolver[Customer, CustomerKey]
}

func (r *invoiceRepo) Get(ctx context.Context, id string) (*Invoice, error) {
	in, err := missing(r.api.GetInvoice(ctx, id))
	if err != nil || in == nil {
		return nil, err
	}
	return castInvoice(in)
}

// FindByUnique lists the customer's invoices and keeps the non-void ones
// carrying the exid. A voided invoice frees its exid for a new draft.
func (r *invoiceRepo) FindByUnique(ctx context.Context, key InvoiceKey) ([]Invoice, error) {
	customerID, err := r.customerID(ctx, key.Customer)
	if err != nil {
		return nil, err
	}

	list, err := r.api.ListInvoices(ctx, &remote.InvoiceListParams{
		Customer: remote.String(customerID),
		Limit:    engine.ListPageSize,
	})
	if err != nil {
		return nil, err
	}

	var out []Invoice
	for i := range list {
		in := &list[i]
		if in.Metadata[MetadataExid] != key.Exid {
			continue
		}
		if in.Status != nil && engine.InvoiceStatus(*in.Status) == engine.InvoiceStatusVoid {
			continue
		}
		inv, err := castInvoice(in)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (r *invoiceRepo) Create(ctx context.Context, desired *Invoice, idemKey string) (*Invoice, error) {
	customerID, err := r.customerID(ctx, desired.Customer)
	if err != nil {
		return nil, err
	}

	params := &remote.InvoiceParams{
		Customer:         customerID,
		AutoAdvance:      desired.AutoAdvance,
		CollectionMethod: desired.CollectionMethod,
		Description:      desired.Description,
		Metadata:         withExid(desired.Metadata, desired.Exid),
	}
	if desired.DueDate != nil {
		params.DueDate = remote.Int64(unixCeil(*desired.DueDate))
	}
	in, err := r.api.CreateInvoice(ctx, params, idemKey)
	if err != nil {
		return nil, err
	}
	return castInvoice(in)
}

// Update is not supported: invoices are drafted once and then only move
// through lifecycle verbs.
func (r *invoiceRepo) Update(_ context.Context, found, _ *Invoice) (*Invoice, error) {
	return nil, engine.NewValidationError("invoice " + found.ID + " can not be updated, only drafted").
		WithResource(KindInvoice)
}

// LockKey renders key with the customer as its id, "" while the customer
// does not exist.
func (r *invoiceRepo) LockKey(ctx context.Context, key InvoiceKey) (string, error) {
	id, err := r.customers.ResolveID(ctx, key.Customer)
	if err != nil || id == "" {
		return "", err
	}
	return id + "/" + key.Exid, nil
}

func (r *invoiceRepo) customerID(ctx context.Context, ref CustomerRef) (string, error) {
	c, err := r.customers.MustResolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// unixCeil returns t in whole seconds, rounded up.
func unixCeil(t time.Time) int64 {
	return int64(math.Ceil(float64(t.UnixMilli()) / 1000))
}

// invoiceItemRepo adapts the remote API to engine.Repository for invoice
// items.
type invoiceItemRepo struct {
	api      remote.API
	invoices *engine.Resolver[Invoice, InvoiceKey]
	products *engine.Resolver[Product, ProductKey]
	coupons  *engine.Applier[Coupon, CouponKey]
}

func (r *invoiceItemRepo) Get(ctx context.Context, id string) (*InvoiceItem, error) {
	it, err := missing(r.api.GetInvoiceItem(ctx, id))
	if err != nil || it == nil {
		return nil, err
	}
	return castInvoiceItem(it)
}

func (r *invoiceItemRepo) FindByUnique(ctx context.Context, key InvoiceItemKey) ([]InvoiceItem, error) {
	inv, err := r.invoice(ctx, key.Invoice)
	if err != nil {
		return nil, err
	}
	items, err := r.List(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	var out []InvoiceItem
	for _, it := range items {
		if it.Exid == key.Exid {
			out = append(out, it)
		}
	}
	return out, nil
}

// List returns the items of an invoice, refusing listings that reach the
// hard cap.
func (r *invoiceItemRepo) List(ctx context.Context, invoiceID string) ([]InvoiceItem, error) {
	list, err := r.api.ListInvoiceItems(ctx, &remote.InvoiceItemListParams{
		Invoice: remote.String(invoiceID),
		Limit:   engine.ListPageSize,
	})
	if err != nil {
		return nil, err
	}
	if err := engine.CheckListCap(KindInvoiceItem, len(list)); err != nil {
		return nil, err
	}
	out := make([]InvoiceItem, 0, len(list))
	for i := range list {
		it, err := castInvoiceItem(&list[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, nil
}

func (r *invoiceItemRepo) Create(ctx context.Context, desired *InvoiceItem, idemKey string) (*InvoiceItem, error) {
	inv, err := r.invoice(ctx, desired.Invoice)
	if err != nil {
		return nil, err
	}
	customerID, ok := inv.Customer.PrimaryID()
	if !ok || customerID == "" {
		return nil, engine.NewPermanentError("invoice "+inv.ID+" has no customer id", nil).
			WithCode(engine.ErrCodeInternal).WithResource(KindInvoiceItem)
	}
	priceID, err := r.priceOf(ctx, desired.Product)
	if err != nil {
		return nil, err
	}
	discounts, err := r.discounts(ctx, desired.Discounts)
	if err != nil {
		return nil, err
	}

	it, err := r.api.CreateInvoiceItem(ctx, &remote.InvoiceItemParams{
		Invoice:     remote.String(inv.ID),
		Customer:    remote.String(customerID),
		Description: desired.Description,
		Price:       remote.String(priceID),
		Discounts:   discounts,
		Metadata:    withExid(desired.Metadata, desired.Exid),
	}, idemKey)
	if err != nil {
		return nil, err
	}
	return r.reload(ctx, it)
}

func (r *invoiceItemRepo) Update(ctx context.Context, found, desired *InvoiceItem) (*InvoiceItem, error) {
	params := &remote.InvoiceItemParams{Description: desired.Description}
	if desired.Metadata != nil {
		params.Metadata = withExid(desired.Metadata, found.Exid)
	}
	if !desired.Product.IsZero() {
		priceID, err := r.priceOf(ctx, desired.Product)
		if err != nil {
			return nil, err
		}
		params.Price = remote.String(priceID)
	}
	discounts, err := r.discounts(ctx, desired.Discounts)
	if err != nil {
		return nil, err
	}
	params.Discounts = discounts

	it, err := r.api.UpdateInvoiceItem(ctx, found.ID, params)
	if err != nil {
		return nil, err
	}
	return r.reload(ctx, it)
}

func (r *invoiceItemRepo) Delete(ctx context.Context, id string) error {
	return r.api.DeleteInvoiceItem(ctx, id)
}

// LockKey renders key with the invoice as its id, "" while the invoice
// does not exist.
func (r *invoiceItemRepo) LockKey(ctx context.Context, key InvoiceItemKey) (string, error) {
	id, err := r.invoices.ResolveID(ctx, key.Invoice)
	if err != nil || id == "" {
		return "", err
	}
	return id + "/" + key.Exid, nil
}

func (r *invoiceItemRepo) invoice(ctx context.Context, ref InvoiceRef) (*Invoice, error) {
	inv, err := r.invoices.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, engine.NewValidationError("can not resolve item.invoiceRef " + ref.String()).
			WithResource(KindInvoiceItem)
	}
	return inv, nil
}

// priceOf returns the default price id of the referenced product.
func (r *invoiceItemRepo) priceOf(ctx context.Context, ref ProductRef) (string, error) {
	if ref.IsZero() {
		return "", engine.NewValidationError("invoice item has no productRef").WithResource(KindInvoiceItem)
	}
	p, err := r.products.MustResolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return p.PriceID, nil
}

// discounts inserts coupons that have no id yet and returns the discount
// parameters, nil when desired leaves discounts untouched.
func (r *invoiceItemRepo) discounts(ctx context.Context, desired *[]Coupon) (*[]remote.DiscountParam, error) {
	if desired == nil {
		return nil, nil
	}
	out := make([]remote.DiscountParam, 0, len(*desired))
	for i := range *desired {
		c := (*desired)[i]
		if c.ID == "" {
			created, err := r.coupons.Insert(ctx, &c)
			if err != nil {
				return nil, fmt.Errorf("failed to insert discount coupon: %w", err)
			}
			c = *created
		}
		out = append(out, remote.DiscountParam{Coupon: c.ID})
	}
	return &out, nil
}

// reload returns it as an entity, fetching it again when the write
// response did not expand price and discounts.
func (r *invoiceItemRepo) reload(ctx context.Context, it *remote.InvoiceItem) (*InvoiceItem, error) {
	expanded := it.Price.Expanded()
	for _, d := range it.Discounts {
		if d.Coupon == nil {
			expanded = false
		}
	}
	if expanded {
		return castInvoiceItem(it)
	}
	fresh, err := r.api.GetInvoiceItem(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	return castInvoiceItem(fresh)
}

var (
	_ engine.LockKeyer[InvoiceKey]     = (*invoiceRepo)(nil)
	_ engine.LockKeyer[InvoiceItemKey] = (*invoiceItemRepo)(nil)
)
