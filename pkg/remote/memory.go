package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryAPI is an in-memory billing provider. It follows the provider's
// observable behavior closely enough for tests and dry runs: ids are
// generated, idempotency keys replay the first response, invoices follow
// the provider's lifecycle and items can only change on draft invoices.
type MemoryAPI struct {
	mu sync.Mutex

	seq         map[string]int
	customers   map[string]*Customer
	products    map[string]*Product
	prices      map[string]*Price
	coupons     map[string]*Coupon
	invoices    map[string]*Invoice
	items       map[string]*InvoiceItem
	tombstones  map[string]*InvoiceItem
	itemOrder   []string
	idempotency map[string]string
	calls       map[string]int
	failures    map[string][]error
}

// NewMemoryAPI creates an empty in-memory provider.
func NewMemoryAPI() *MemoryAPI {
	return &MemoryAPI{
		seq:         make(map[string]int),
		customers:   make(map[string]*Customer),
		products:    make(map[string]*Product),
		prices:      make(map[string]*Price),
		coupons:     make(map[string]*Coupon),
		invoices:    make(map[string]*Invoice),
		items:       make(map[string]*InvoiceItem),
		tombstones:  make(map[string]*InvoiceItem),
		idempotency: make(map[string]string),
		calls:       make(map[string]int),
		failures:    make(map[string][]error),
	}
}

// Calls returns how many times method (e.g. "CreateCustomer") was called.
func (m *MemoryAPI) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// FailNext makes the next call of method return err without touching state.
// Several failures queue up in order.
func (m *MemoryAPI) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], err)
}

// enter records a call and returns a queued failure, if any. The caller
// must hold m.mu.
func (m *MemoryAPI) enter(ctx context.Context, method string) error {
	m.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queued := m.failures[method]; len(queued) > 0 {
		m.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *MemoryAPI) nextID(prefix string) string {
	m.seq[prefix]++
	return fmt.Sprintf("%s_%06d", prefix, m.seq[prefix])
}

// replay returns the id created earlier under key for resource.
func (m *MemoryAPI) replay(resource, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	id, ok := m.idempotency[resource+"/"+key]
	return id, ok
}

func (m *MemoryAPI) remember(resource, key, id string) {
	if key != "" {
		m.idempotency[resource+"/"+key] = id
	}
}

// GetCustomer implements API.
func (m *MemoryAPI) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetCustomer"); err != nil {
		return nil, err
	}
	c, ok := m.customers[id]
	if !ok {
		return nil, notFound("customer", id)
	}
	return cloneCustomer(c), nil
}

// ListCustomers implements API. Customers are listed newest first.
func (m *MemoryAPI) ListCustomers(ctx context.Context, params *CustomerListParams) ([]Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListCustomers"); err != nil {
		return nil, err
	}
	if params == nil {
		params = &CustomerListParams{}
	}
	var out []Customer
	for _, id := range sortedDesc(m.customers) {
		c := m.customers[id]
		if params.Email != nil && (c.Email == nil || *c.Email != *params.Email) {
			continue
		}
		out = append(out, *cloneCustomer(c))
	}
	return limit(out, params.Limit), nil
}

// CreateCustomer implements API.
func (m *MemoryAPI) CreateCustomer(ctx context.Context, params *CustomerParams, idempotencyKey string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "CreateCustomer"); err != nil {
		return nil, err
	}
	if id, ok := m.replay(ResourceCustomers, idempotencyKey); ok {
		return cloneCustomer(m.customers[id]), nil
	}
	c := &Customer{ID: m.nextID("cus"), Object: "customer", Metadata: map[string]string{}}
	applyCustomer(c, params)
	m.customers[c.ID] = c
	m.remember(ResourceCustomers, idempotencyKey, c.ID)
	return cloneCustomer(c), nil
}

// UpdateCustomer implements API.
func (m *MemoryAPI) UpdateCustomer(ctx context.Context, id string, params *CustomerParams) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateCustomer"); err != nil {
		return nil, err
	}
	c, ok := m.customers[id]
	if !ok {
		return nil, notFound("customer", id)
	}
	applyCustomer(c, params)
	return cloneCustomer(c), nil
}

func applyCustomer(c *Customer, p *CustomerParams) {
	if p == nil {
		return
	}
	if p.Email != nil {
		c.Email = String(*p.Email)
	}
	if p.Name != nil {
		c.Name = String(*p.Name)
	}
	if p.Description != nil {
		c.Description = String(*p.Description)
	}
	if p.Phone != nil {
		c.Phone = String(*p.Phone)
	}
	mergeMetadata(c.Metadata, p.Metadata)
}

// GetProduct implements API.
func (m *MemoryAPI) GetProduct(ctx context.Context, id string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetProduct"); err != nil {
		return nil, err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	return m.expandProduct(p), nil
}

// CreateProduct implements API.
func (m *MemoryAPI) CreateProduct(ctx context.Context, params *ProductParams, idempotencyKey string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "CreateProduct"); err != nil {
		return nil, err
	}
	if id, ok := m.replay(ResourceProducts, idempotencyKey); ok {
		return m.expandProduct(m.products[id]), nil
	}
	if params == nil || params.Name == nil {
		return nil, badRequest(CodeParameterMissing, "name", "Missing required param: name.")
	}

	id := m.nextID("prod")
	if params.ID != nil {
		id = *params.ID
	}
	if _, exists := m.products[id]; exists {
		return nil, badRequest(CodeResourceExists, "id", "Product already exists.")
	}

	p := &Product{ID: id, Object: "product", Active: true, Metadata: map[string]string{}}
	if params.DefaultPriceData != nil {
		price := m.newPrice(id, params.DefaultPriceData.Currency, params.DefaultPriceData.UnitAmount)
		p.DefaultPrice = &Price{ID: price.ID}
	}
	m.applyProduct(p, params)
	m.products[id] = p
	m.remember(ResourceProducts, idempotencyKey, id)
	return m.expandProduct(p), nil
}

// UpdateProduct implements API.
func (m *MemoryAPI) UpdateProduct(ctx context.Context, id string, params *ProductParams) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateProduct"); err != nil {
		return nil, err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	if params != nil && params.DefaultPrice != nil {
		price, ok := m.prices[*params.DefaultPrice]
		if !ok {
			return nil, notFound("price", *params.DefaultPrice)
		}
		if price.Product != id {
			return nil, badRequest("", "default_price", "The price %s does not belong to product %s.", price.ID, id)
		}
		p.DefaultPrice = &Price{ID: price.ID}
	}
	m.applyProduct(p, params)
	return m.expandProduct(p), nil
}

func (m *MemoryAPI) applyProduct(p *Product, params *ProductParams) {
	if params == nil {
		return
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	if params.Active != nil {
		p.Active = *params.Active
	}
	if params.Description != nil {
		p.Description = String(*params.Description)
	}
	if params.URL != nil {
		p.URL = String(*params.URL)
	}
	mergeMetadata(p.Metadata, params.Metadata)
}

func (m *MemoryAPI) expandProduct(p *Product) *Product {
	out := *p
	out.Metadata = cloneMap(p.Metadata)
	if p.DefaultPrice != nil {
		if price, ok := m.prices[p.DefaultPrice.ID]; ok {
			cp := *price
			out.DefaultPrice = &cp
		}
	}
	return &out
}

// CreatePrice implements API.
func (m *MemoryAPI) CreatePrice(ctx context.Context, params *PriceParams) (*Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "CreatePrice"); err != nil {
		return nil, err
	}
	if params == nil || params.Product == "" {
		return nil, badRequest(CodeParameterMissing, "product", "Missing required param: product.")
	}
	if _, ok := m.products[params.Product]; !ok {
		return nil, notFound("product", params.Product)
	}
	price := m.newPrice(params.Product, params.Currency, params.UnitAmount)
	cp := *price
	return &cp, nil
}

func (m *MemoryAPI) newPrice(product, currency string, unitAmount int64) *Price {
	price := &Price{
		ID:         m.nextID("price"),
		Object:     "price",
		Product:    product,
		Currency:   currency,
		UnitAmount: Int64(unitAmount),
		Active:     true,
	}
	m.prices[price.ID] = price
	return price
}

// CreateCoupon implements API.
func (m *MemoryAPI) CreateCoupon(ctx context.Context, params *CouponParams, idempotencyKey string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "CreateCoupon"); err != nil {
		return nil, err
	}
	if id, ok := m.replay(ResourceCoupons, idempotencyKey); ok {
		return cloneCoupon(m.coupons[id]), nil
	}
	if params == nil {
		return nil, badRequest(CodeParameterMissing, "duration", "Missing required param: duration.")
	}
	if (params.PercentOff == nil) == (params.AmountOff == nil) {
		return nil, badRequest("", "percent_off", "Exactly one of percent_off or amount_off is required.")
	}
	if params.AmountOff != nil && params.Currency == nil {
		return nil, badRequest(CodeParameterMissing, "currency", "Missing required param: currency.")
	}
	switch params.Duration {
	case DurationOnce, DurationForever:
	case DurationRepeating:
		if params.DurationInMonths == nil {
			return nil, badRequest(CodeParameterMissing, "duration_in_months", "Missing required param: duration_in_months.")
		}
	default:
		return nil, badRequest("", "duration", "Invalid duration: %q.", params.Duration)
	}

	c := &Coupon{
		ID:               m.nextID("coupon"),
		Object:           "coupon",
		Name:             copyString(params.Name),
		AmountOff:        copyInt(params.AmountOff),
		Currency:         copyString(params.Currency),
		PercentOff:       copyFloat(params.PercentOff),
		Duration:         params.Duration,
		DurationInMonths: copyInt(params.DurationInMonths),
		Metadata:         cloneMap(params.Metadata),
		Valid:            true,
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	m.coupons[c.ID] = c
	m.remember(ResourceCoupons, idempotencyKey, c.ID)
	return cloneCoupon(c), nil
}

// GetInvoice implements API.
func (m *MemoryAPI) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetInvoice"); err != nil {
		return nil, err
	}
	inv, ok := m.invoices[id]
	if !ok {
		return nil, notFound("invoice", id)
	}
	return m.renderInvoice(inv), nil
}

// ListInvoices implements API. Invoices are listed newest first.
func (m *MemoryAPI) ListInvoices(ctx context.Context, params *InvoiceListParams) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListInvoices"); err != nil {
		return nil, err
	}
	if params == nil {
		params = &InvoiceListParams{}
	}
	var out []Invoice
	for _, id := range sortedDesc(m.invoices) {
		inv := m.invoices[id]
		if params.Customer != nil && inv.Customer != *params.Customer {
			continue
		}
		if params.Status != nil && *inv.Status != *params.Status {
			continue
		}
		out = append(out, *m.renderInvoice(inv))
	}
	return limit(out, params.Limit), nil
}

// CreateInvoice implements API.
func (m *MemoryAPI) CreateInvoice(ctx context.Context, params *InvoiceParams, idempotencyKey string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "CreateInvoice"); err != nil {
		return nil, err
	}
	if id, ok := m.replay(ResourceInvoices, idempotencyKey); ok {
		return m.renderInvoice(m.invoices[id]), nil
	}
	if params == nil || params.Customer == "" {
		return nil, badRequest(CodeParameterMissing, "customer", "Missing required param: customer.")
	}
	if _, ok := m.customers[params.Customer]; !ok {
		return nil, notFound("customer", params.Customer)
	}

	method := "charge_automatically"
	if params.CollectionMethod != nil {
		method = *params.CollectionMethod
	}
	if method == "send_invoice" && params.DueDate == nil {
		return nil, badRequest(CodeParameterMissing, "due_date", "Invoices with collection_method send_invoice require a due_date.")
	}

	autoAdvance := false
	if params.AutoAdvance != nil {
		autoAdvance = *params.AutoAdvance
	}
	inv := &Invoice{
		ID:               m.nextID("in"),
		Object:           "invoice",
		Customer:         params.Customer,
		Status:           String("draft"),
		Currency:         "usd",
		DueDate:          copyInt(params.DueDate),
		AutoAdvance:      Bool(autoAdvance),
		CollectionMethod: method,
		Description:      copyString(params.Description),
		Metadata:         cloneMap(params.Metadata),
	}
	if inv.Metadata == nil {
		inv.Metadata = map[string]string{}
	}
	m.invoices[inv.ID] = inv
	m.remember(ResourceInvoices, idempotencyKey, inv.ID)
	return m.renderInvoice(inv), nil
}

// FinalizeInvoice implements API.
func (m *MemoryAPI) FinalizeInvoice(ctx context.Context, id string, params *FinalizeParams) (*Invoice, error) {
	return m.transition(ctx, "FinalizeInvoice", id, "draft", func(inv *Invoice) {
		inv.Status = String("open")
		if params != nil && params.AutoAdvance != nil {
			inv.AutoAdvance = Bool(*params.AutoAdvance)
		}
		inv.HostedInvoiceURL = String("https://invoice.example.test/i/" + inv.ID)
		inv.InvoicePDF = String("https://invoice.example.test/i/" + inv.ID + "/pdf")
	}, "This invoice is already finalized, you can't re-finalize a non-draft invoice.")
}

// PayInvoice implements API.
func (m *MemoryAPI) PayInvoice(ctx context.Context, id string) (*Invoice, error) {
	return m.transition(ctx, "PayInvoice", id, "open", func(inv *Invoice) {
		inv.Status = String("paid")
		inv.Charge = String(m.nextID("ch"))
	}, "Invoice is not open and can not be paid.")
}

// VoidInvoice implements API.
func (m *MemoryAPI) VoidInvoice(ctx context.Context, id string) (*Invoice, error) {
	return m.transition(ctx, "VoidInvoice", id, "open", func(inv *Invoice) {
		inv.Status = String("void")
	}, "You can only void an open invoice.")
}

// SendInvoice implements API.
func (m *MemoryAPI) SendInvoice(ctx context.Context, id string) (*Invoice, error) {
	return m.transition(ctx, "SendInvoice", id, "open", func(*Invoice) {},
		"You can only send an open invoice.")
}

func (m *MemoryAPI) transition(ctx context.Context, method, id, from string, apply func(*Invoice), reject string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, method); err != nil {
		return nil, err
	}
	inv, ok := m.invoices[id]
	if !ok {
		return nil, notFound("invoice", id)
	}
	if *inv.Status != from {
		return nil, badRequest(CodeInvalidState, "", "%s", reject)
	}
	apply(inv)
	return m.renderInvoice(inv), nil
}

// renderInvoice copies inv with its total computed from its items.
func (m *MemoryAPI) renderInvoice(inv *Invoice) *Invoice {
	out := *inv
	out.Metadata = cloneMap(inv.Metadata)
	out.Total = 0
	for _, id := range m.itemOrder {
		item := m.items[id]
		if item.Invoice != nil && *item.Invoice == inv.ID {
			out.Total += item.Amount
		}
	}
	return &out
}

// GetInvoiceItem implements API.
func (m *MemoryAPI) GetInvoiceItem(ctx context.Context, id string) (*InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetInvoiceItem"); err != nil {
		return nil, err
	}
	item, ok := m.items[id]
	if !ok {
		return nil, notFound("invoiceitem", id)
	}
	return m.expandItem(item), nil
}

// ListInvoiceItems implements API. Items are listed newest first.
func (m *MemoryAPI) ListInvoiceItems(ctx context.Context, params *InvoiceItemListParams) ([]InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListInvoiceItems"); err != nil {
		return nil, err
	}
	if params == nil {
		params = &InvoiceItemListParams{}
	}
	var out []InvoiceItem
	for i := len(m.itemOrder) - 1; i >= 0; i-- {
		item := m.items[m.itemOrder[i]]
		if params.Invoice != nil && (item.Invoice == nil || *item.Invoice != *params.Invoice) {
			continue
		}
		out = append(out, *m.expandItem(item))
	}
	return limit(out, params.Limit), nil
}

// CreateInvoiceItem implements API. The description defaults to the
// product name.
func (m *MemoryAPI) CreateInvoiceItem(ctx context.Context, params *InvoiceItemParams, idempotencyKey string) (*InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "CreateInvoiceItem"); err != nil {
		return nil, err
	}
	if id, ok := m.replay(ResourceInvoiceItems, idempotencyKey); ok {
		// Keys outlive the items they created: a deleted item is replayed
		// as it was, and stays deleted.
		if item, live := m.items[id]; live {
			return m.expandItem(item), nil
		}
		return m.expandItem(m.tombstones[id]), nil
	}
	if params == nil || params.Customer == nil {
		return nil, badRequest(CodeParameterMissing, "customer", "Missing required param: customer.")
	}
	if _, ok := m.customers[*params.Customer]; !ok {
		return nil, notFound("customer", *params.Customer)
	}
	if params.Price == nil {
		return nil, badRequest(CodeParameterMissing, "price", "Missing required param: price.")
	}
	if params.Invoice != nil {
		if err := m.editableInvoice(*params.Invoice); err != nil {
			return nil, err
		}
	}

	item := &InvoiceItem{
		ID:       m.nextID("ii"),
		Object:   "invoiceitem",
		Invoice:  copyString(params.Invoice),
		Customer: *params.Customer,
		Metadata: map[string]string{},
	}
	if err := m.applyItem(item, params); err != nil {
		return nil, err
	}
	if item.Description == nil {
		if product, ok := m.products[m.prices[item.Price.ID].Product]; ok {
			item.Description = String(product.Name)
		}
	}
	m.items[item.ID] = item
	m.itemOrder = append(m.itemOrder, item.ID)
	m.remember(ResourceInvoiceItems, idempotencyKey, item.ID)
	return m.expandItem(item), nil
}

// UpdateInvoiceItem implements API.
func (m *MemoryAPI) UpdateInvoiceItem(ctx context.Context, id string, params *InvoiceItemParams) (*InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateInvoiceItem"); err != nil {
		return nil, err
	}
	item, ok := m.items[id]
	if !ok {
		return nil, notFound("invoiceitem", id)
	}
	if item.Invoice != nil {
		if err := m.editableInvoice(*item.Invoice); err != nil {
			return nil, err
		}
	}
	if err := m.applyItem(item, params); err != nil {
		return nil, err
	}
	return m.expandItem(item), nil
}

// DeleteInvoiceItem implements API.
func (m *MemoryAPI) DeleteInvoiceItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "DeleteInvoiceItem"); err != nil {
		return err
	}
	item, ok := m.items[id]
	if !ok {
		return notFound("invoiceitem", id)
	}
	if item.Invoice != nil {
		if err := m.editableInvoice(*item.Invoice); err != nil {
			return err
		}
	}
	delete(m.items, id)
	m.tombstones[id] = item
	for i, oid := range m.itemOrder {
		if oid == id {
			m.itemOrder = append(m.itemOrder[:i], m.itemOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryAPI) editableInvoice(id string) error {
	inv, ok := m.invoices[id]
	if !ok {
		return notFound("invoice", id)
	}
	if *inv.Status != "draft" {
		return badRequest(CodeInvalidState, "invoice", "You can only modify invoice items on draft invoices.")
	}
	return nil
}

// applyItem writes params into item and recomputes its amount.
func (m *MemoryAPI) applyItem(item *InvoiceItem, params *InvoiceItemParams) error {
	if params == nil {
		return nil
	}
	if params.Price != nil {
		price, ok := m.prices[*params.Price]
		if !ok {
			return notFound("price", *params.Price)
		}
		item.Price = &Price{ID: price.ID}
		item.Currency = price.Currency
	}
	if params.Description != nil {
		item.Description = String(*params.Description)
	}
	if params.Discounts != nil {
		discounts := make([]Discount, 0, len(*params.Discounts))
		for _, d := range *params.Discounts {
			if _, ok := m.coupons[d.Coupon]; !ok {
				return notFound("coupon", d.Coupon)
			}
			discounts = append(discounts, Discount{
				ID:     m.nextID("di"),
				Coupon: &Coupon{ID: d.Coupon},
			})
		}
		item.Discounts = discounts
	}
	mergeMetadata(item.Metadata, params.Metadata)

	item.Amount = m.itemAmount(item)
	return nil
}

// itemAmount is the unit amount of the item's price after its discounts.
func (m *MemoryAPI) itemAmount(item *InvoiceItem) int64 {
	if item.Price == nil {
		return 0
	}
	price, ok := m.prices[item.Price.ID]
	if !ok || price.UnitAmount == nil {
		return 0
	}
	amount := decimal.NewFromInt(*price.UnitAmount)
	for _, d := range item.Discounts {
		coupon, ok := m.coupons[d.Coupon.ID]
		if !ok {
			continue
		}
		switch {
		case coupon.AmountOff != nil:
			amount = amount.Sub(decimal.NewFromInt(*coupon.AmountOff))
		case coupon.PercentOff != nil:
			off := amount.Mul(decimal.NewFromFloat(*coupon.PercentOff)).Div(decimal.NewFromInt(100))
			amount = amount.Sub(off)
		}
	}
	if amount.IsNegative() {
		return 0
	}
	return amount.Round(0).IntPart()
}

func (m *MemoryAPI) expandItem(item *InvoiceItem) *InvoiceItem {
	out := *item
	out.Metadata = cloneMap(item.Metadata)
	if item.Price != nil {
		if price, ok := m.prices[item.Price.ID]; ok {
			cp := *price
			out.Price = &cp
		}
	}
	out.Discounts = make([]Discount, len(item.Discounts))
	for i, d := range item.Discounts {
		out.Discounts[i] = Discount{ID: d.ID, Object: "discount", Coupon: d.Coupon}
		if coupon, ok := m.coupons[d.Coupon.ID]; ok {
			out.Discounts[i].Coupon = cloneCoupon(coupon)
		}
	}
	return &out
}

func sortedDesc[T any](m map[string]T) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids
}

func limit[T any](items []T, n int64) []T {
	if n <= 0 {
		n = 10
	}
	if int64(len(items)) > n {
		return items[:n]
	}
	return items
}

func mergeMetadata(dst, src map[string]string) {
	for k, v := range src {
		if v == "" {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCustomer(c *Customer) *Customer {
	out := *c
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

func cloneCoupon(c *Coupon) *Coupon {
	out := *c
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	return String(*v)
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return Int64(*v)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float64(*v)
}

var _ API = (*MemoryAPI)(nil)
