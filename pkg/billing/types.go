package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/declabill/declabill/pkg/engine"
)

// MetadataExid is the metadata key holding the caller's external
// correlation id.
const MetadataExid = "exid"

// CurrencyUSD is the only currency products and coupons are priced in.
const CurrencyUSD = "usd"

// Collection methods of an invoice.
const (
	CollectionChargeAutomatically = "charge_automatically"
	CollectionSendInvoice         = "send_invoice"
)

// Coupon durations.
const (
	DurationOnce      = "once"
	DurationForever   = "forever"
	DurationRepeating = "repeating"
)

// Customer is a billed party. Its unique key is the email address.
// Pointer fields are optional: nil leaves the remote value untouched on
// upsert.
type Customer struct {
	ID          string            `json:"id,omitempty"`
	Email       string            `json:"email" validate:"required,email"`
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Phone       *string           `json:"phone,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CustomerKey is the unique key of a customer.
type CustomerKey struct {
	Email string `json:"email"`
}

// CustomerRef points at a customer.
type CustomerRef = engine.Ref[Customer, CustomerKey]

// CustomerByID references a customer by its remote id.
func CustomerByID(id string) CustomerRef { return engine.RefByPrimary[Customer, CustomerKey](id) }

// CustomerByEmail references a customer by email.
func CustomerByEmail(email string) CustomerRef {
	return engine.RefByUnique[Customer](CustomerKey{Email: email})
}

// Product is a sellable item with a single USD default price. The caller
// chooses the id, which is both primary and unique key.
type Product struct {
	ID          string            `json:"id" validate:"required"`
	Name        *string           `json:"name,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	Description *string           `json:"description,omitempty"`
	URL         *string           `json:"url,omitempty" validate:"omitempty,url"`
	Price       *int64            `json:"price,omitempty" validate:"omitempty,gte=0"`
	PriceID     string            `json:"priceId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Major returns the price in currency units, zero when no price is set.
func (p *Product) Major() decimal.Decimal {
	if p == nil || p.Price == nil {
		return decimal.Zero
	}
	return decimal.New(*p.Price, -2)
}

// ProductKey is the unique key of a product.
type ProductKey struct {
	ID string `json:"id"`
}

// ProductRef points at a product.
type ProductRef = engine.Ref[Product, ProductKey]

// ProductByID references a product by id.
func ProductByID(id string) ProductRef { return engine.RefByPrimary[Product, ProductKey](id) }

// Coupon is a discount. Coupons have no unique key and are always inserted.
type Coupon struct {
	ID               string            `json:"id,omitempty"`
	Name             *string           `json:"name,omitempty"`
	Duration         string            `json:"duration" validate:"required,oneof=once forever repeating"`
	DurationInMonths *int64            `json:"durationInMonths,omitempty" validate:"omitempty,gt=0"`
	PercentOff       *decimal.Decimal  `json:"percentOff,omitempty"`
	AmountOff        *int64            `json:"amountOff,omitempty" validate:"omitempty,gt=0"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// CouponKey is the empty unique key of coupons.
type CouponKey struct{}

// Invoice is the primary billing document. Its unique key is the pair
// (customer, exid).
type Invoice struct {
	ID               string               `json:"id,omitempty"`
	Exid             string               `json:"exid" validate:"required"`
	Customer         CustomerRef          `json:"customerRef"`
	Status           engine.InvoiceStatus `json:"status,omitempty"`
	AutoAdvance      *bool                `json:"autoAdvance,omitempty"`
	CollectionMethod *string              `json:"collectionMethod,omitempty" validate:"omitempty,oneof=charge_automatically send_invoice"`
	Description      *string              `json:"description,omitempty"`
	DueDate          *time.Time           `json:"dueDate,omitempty"`
	TotalBillable    int64                `json:"totalBillable,omitempty"`
	Currency         string               `json:"currency,omitempty"`
	PortalURL        *string              `json:"portalUrl,omitempty"`
	PDFURL           *string              `json:"pdfUrl,omitempty"`
	ChargeID         *string              `json:"chargeId,omitempty"`
	Metadata         map[string]string    `json:"metadata,omitempty"`
}

// Total returns the billable total in currency units.
func (i *Invoice) Total() decimal.Decimal {
	return decimal.New(i.TotalBillable, -2)
}

// InvoiceKey is the unique key of an invoice.
type InvoiceKey struct {
	Customer CustomerRef `json:"customerRef"`
	Exid     string      `json:"exid"`
}

// InvoiceRef points at an invoice.
type InvoiceRef = engine.Ref[Invoice, InvoiceKey]

// InvoiceByID references an invoice by its remote id.
func InvoiceByID(id string) InvoiceRef { return engine.RefByPrimary[Invoice, InvoiceKey](id) }

// InvoiceByExid references the invoice of customer carrying exid.
func InvoiceByExid(customer CustomerRef, exid string) InvoiceRef {
	return engine.RefByUnique[Invoice](InvoiceKey{Customer: customer, Exid: exid})
}

// InvoiceItem is a line of an invoice. Its unique key is the pair
// (invoice, exid). A nil Discounts leaves discounts untouched on upsert; a
// non-nil empty slice clears them.
type InvoiceItem struct {
	ID          string            `json:"id,omitempty"`
	Exid        string            `json:"exid" validate:"required"`
	Invoice     InvoiceRef        `json:"invoiceRef"`
	Product     ProductRef        `json:"productRef"`
	Description *string           `json:"description,omitempty"`
	Discounts   *[]Coupon         `json:"discounts,omitempty" validate:"omitempty,dive"`
	Amount      int64             `json:"amount,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InvoiceItemKey is the unique key of an invoice item.
type InvoiceItemKey struct {
	Invoice InvoiceRef `json:"invoiceRef"`
	Exid    string     `json:"exid"`
}

// InvoiceItemRef points at an invoice item.
type InvoiceItemRef = engine.Ref[InvoiceItem, InvoiceItemKey]

// InvoiceItemByID references an invoice item by its remote id.
func InvoiceItemByID(id string) InvoiceItemRef {
	return engine.RefByPrimary[InvoiceItem, InvoiceItemKey](id)
}

// InvoiceItemByExid references the item of invoice carrying exid.
func InvoiceItemByExid(invoice InvoiceRef, exid string) InvoiceItemRef {
	return engine.RefByUnique[InvoiceItem](InvoiceItemKey{Invoice: invoice, Exid: exid})
}
