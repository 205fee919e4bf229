package billing

import (
	"fmt"

	"github.com/declabill/declabill/pkg/engine"
)

// Entity kinds.
const (
	KindCustomer    = "customer"
	KindProduct     = "product"
	KindCoupon      = "coupon"
	KindInvoice     = "invoice"
	KindInvoiceItem = "invoice_item"
)

// Idempotency schema tags. Bumping one invalidates the keys derived for
// that kind.
const (
	customerVersion    = "v1.0.0"
	productVersion     = "v1.0.0"
	couponVersion      = "v1.0.1"
	invoiceVersion     = "v1.0.1"
	invoiceItemVersion = "v1.0.0"
)

// CustomerSchema identifies customers by email and derives create keys
// from the whole desired record.
func CustomerSchema() engine.Schema[Customer, CustomerKey] {
	return engine.Schema[Customer, CustomerKey]{
		Kind:      KindCustomer,
		Version:   customerVersion,
		PrimaryOf: func(c *Customer) string { return c.ID },
		UniqueOf: func(c *Customer) (CustomerKey, bool) {
			return CustomerKey{Email: c.Email}, c.Email != ""
		},
		IdempotencyFields: func(c *Customer) any { return c },
		DescribeKey:       func(k CustomerKey) string { return k.Email },
	}
}

// ProductSchema identifies products by their caller-chosen id.
func ProductSchema() engine.Schema[Product, ProductKey] {
	return engine.Schema[Product, ProductKey]{
		Kind:      KindProduct,
		Version:   productVersion,
		PrimaryOf: func(p *Product) string { return p.ID },
		UniqueOf: func(p *Product) (ProductKey, bool) {
			return ProductKey{ID: p.ID}, p.ID != ""
		},
		IdempotencyFields: func(p *Product) any { return ProductKey{ID: p.ID} },
		DescribeKey:       func(k ProductKey) string { return k.ID },
	}
}

// CouponSchema has no unique key: coupons can only be inserted.
func CouponSchema() engine.Schema[Coupon, CouponKey] {
	return engine.Schema[Coupon, CouponKey]{
		Kind:              KindCoupon,
		Version:           couponVersion,
		PrimaryOf:         func(c *Coupon) string { return c.ID },
		IdempotencyFields: func(c *Coupon) any { return c },
	}
}

// InvoiceSchema identifies invoices by (customer, exid).
func InvoiceSchema() engine.Schema[Invoice, InvoiceKey] {
	return engine.Schema[Invoice, InvoiceKey]{
		Kind:      KindInvoice,
		Version:   invoiceVersion,
		PrimaryOf: func(i *Invoice) string { return i.ID },
		UniqueOf: func(i *Invoice) (InvoiceKey, bool) {
			return InvoiceKey{Customer: i.Customer, Exid: i.Exid}, i.Exid != "" && !i.Customer.IsZero()
		},
		IdempotencyFields: func(i *Invoice) any {
			return InvoiceKey{Customer: i.Customer, Exid: i.Exid}
		},
		DescribeKey: func(k InvoiceKey) string { return fmt.Sprintf("%s/%s", k.Customer, k.Exid) },
	}
}

// InvoiceItemSchema identifies invoice items by (invoice, exid).
func InvoiceItemSchema() engine.Schema[InvoiceItem, InvoiceItemKey] {
	return engine.Schema[InvoiceItem, InvoiceItemKey]{
		Kind:      KindInvoiceItem,
		Version:   invoiceItemVersion,
		PrimaryOf: func(i *InvoiceItem) string { return i.ID },
		UniqueOf: func(i *InvoiceItem) (InvoiceItemKey, bool) {
			return InvoiceItemKey{Invoice: i.Invoice, Exid: i.Exid}, i.Exid != "" && !i.Invoice.IsZero()
		},
		IdempotencyFields: func(i *InvoiceItem) any {
			return InvoiceItemKey{Invoice: i.Invoice, Exid: i.Exid}
		},
		DescribeKey: func(k InvoiceItemKey) string { return fmt.Sprintf("%s/%s", k.Invoice, k.Exid) },
	}
}
