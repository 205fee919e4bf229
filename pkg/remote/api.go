package remote

import (
	"context"
)

// API is the imperative surface of the billing provider. Get methods return
// an error matching ErrNotFound when the resource does not exist. Create
// methods attach the idempotency key to the call when it is not empty.
type API interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListCustomers(ctx context.Context, params *CustomerListParams) ([]Customer, error)
	CreateCustomer(ctx context.Context, params *CustomerParams, idempotencyKey string) (*Customer, error)
	UpdateCustomer(ctx context.Context, id string, params *CustomerParams) (*Customer, error)

	// GetProduct returns the product with its default price expanded.
	GetProduct(ctx context.Context, id string) (*Product, error)
	CreateProduct(ctx context.Context, params *ProductParams, idempotencyKey string) (*Product, error)
	UpdateProduct(ctx context.Context, id string, params *ProductParams) (*Product, error)
	CreatePrice(ctx context.Context, params *PriceParams) (*Price, error)

	CreateCoupon(ctx context.Context, params *CouponParams, idempotencyKey string) (*Coupon, error)

	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, params *InvoiceListParams) ([]Invoice, error)
	CreateInvoice(ctx context.Context, params *InvoiceParams, idempotencyKey string) (*Invoice, error)
	FinalizeInvoice(ctx context.Context, id string, params *FinalizeParams) (*Invoice, error)
	PayInvoice(ctx context.Context, id string) (*Invoice, error)
	VoidInvoice(ctx context.Context, id string) (*Invoice, error)
	SendInvoice(ctx context.Context, id string) (*Invoice, error)

	// GetInvoiceItem and ListInvoiceItems return items with price and
	// discounts expanded.
	GetInvoiceItem(ctx context.Context, id string) (*InvoiceItem, error)
	ListInvoiceItems(ctx context.Context, params *InvoiceItemListParams) ([]InvoiceItem, error)
	CreateInvoiceItem(ctx context.Context, params *InvoiceItemParams, idempotencyKey string) (*InvoiceItem, error)
	UpdateInvoiceItem(ctx context.Context, id string, params *InvoiceItemParams) (*InvoiceItem, error)
	DeleteInvoiceItem(ctx context.Context, id string) error
}

// Resource names used in paths, spans and metrics.
const (
	ResourceCustomers    = "customers"
	ResourceProducts     = "products"
	ResourcePrices       = "prices"
	ResourceCoupons      = "coupons"
	ResourceInvoices     = "invoices"
	ResourceInvoiceItems = "invoiceitems"
)
