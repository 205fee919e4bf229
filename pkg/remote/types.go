package remote

import (
	"encoding/json"
)

// Customer is the wire shape of a customer.
type Customer struct {
	ID          string            `json:"id"`
	Object      string            `json:"object,omitempty"`
	Email       *string           `json:"email"`
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Phone       *string           `json:"phone"`
	Metadata    map[string]string `json:"metadata"`
	Deleted     bool              `json:"deleted,omitempty"`
}

// Price is the wire shape of a price. When not expanded the provider sends
// the bare id, which UnmarshalJSON accepts.
type Price struct {
	ID         string `json:"id"`
	Object     string `json:"object,omitempty"`
	Product    string `json:"product,omitempty"`
	Currency   string `json:"currency,omitempty"`
	UnitAmount *int64 `json:"unit_amount"`
	Active     bool   `json:"active,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Price) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*p = Price{ID: id}
		return nil
	}
	type price Price
	var v price
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Price(v)
	return nil
}

// Expanded reports whether the price carries more than its id.
func (p *Price) Expanded() bool {
	return p != nil && p.Object != ""
}

// Product is the wire shape of a product.
type Product struct {
	ID           string            `json:"id"`
	Object       string            `json:"object,omitempty"`
	Name         string            `json:"name"`
	Active       bool              `json:"active"`
	Description  *string           `json:"description"`
	URL          *string           `json:"url"`
	DefaultPrice *Price            `json:"default_price"`
	Metadata     map[string]string `json:"metadata"`
	Deleted      bool              `json:"deleted,omitempty"`
}

// Coupon durations.
const (
	DurationOnce      = "once"
	DurationForever   = "forever"
	DurationRepeating = "repeating"
)

// Coupon is the wire shape of a coupon.
type Coupon struct {
	ID               string            `json:"id"`
	Object           string            `json:"object,omitempty"`
	Name             *string           `json:"name"`
	AmountOff        *int64            `json:"amount_off"`
	Currency         *string           `json:"currency"`
	PercentOff       *float64          `json:"percent_off"`
	Duration         string            `json:"duration"`
	DurationInMonths *int64            `json:"duration_in_months"`
	Metadata         map[string]string `json:"metadata"`
	Valid            bool              `json:"valid"`
	Deleted          bool              `json:"deleted,omitempty"`
}

// Discount is a coupon applied to an invoice item. When not expanded the
// provider sends the bare discount id.
type Discount struct {
	ID     string  `json:"id"`
	Object string  `json:"object,omitempty"`
	Coupon *Coupon `json:"coupon"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Discount) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*d = Discount{ID: id}
		return nil
	}
	type discount Discount
	var v discount
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*d = Discount(v)
	return nil
}

// Invoice is the wire shape of an invoice.
type Invoice struct {
	ID               string            `json:"id"`
	Object           string            `json:"object,omitempty"`
	Customer         string            `json:"customer"`
	Status           *string           `json:"status"`
	Total            int64             `json:"total"`
	Currency         string            `json:"currency,omitempty"`
	DueDate          *int64            `json:"due_date"`
	AutoAdvance      *bool             `json:"auto_advance"`
	CollectionMethod string            `json:"collection_method"`
	Description      *string           `json:"description"`
	HostedInvoiceURL *string           `json:"hosted_invoice_url"`
	InvoicePDF       *string           `json:"invoice_pdf"`
	Charge           *string           `json:"charge"`
	Metadata         map[string]string `json:"metadata"`
	Deleted          bool              `json:"deleted,omitempty"`
}

// InvoiceItem is the wire shape of an invoice item.
type InvoiceItem struct {
	ID          string            `json:"id"`
	Object      string            `json:"object,omitempty"`
	Invoice     *string           `json:"invoice"`
	Customer    string            `json:"customer"`
	Description *string           `json:"description"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Price       *Price            `json:"price"`
	Discounts   []Discount        `json:"discounts"`
	Metadata    map[string]string `json:"metadata"`
	Deleted     bool              `json:"deleted,omitempty"`
}

// DeletedObject is the response of a delete call.
type DeletedObject struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Deleted bool   `json:"deleted"`
}

// listResponse is the envelope of every list call.
type listResponse[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
}
