package remote

import (
	"net/url"
	"sort"
	"strconv"
)

// Params is implemented by every request parameter type. Encode writes the
// form representation of the parameters the caller set; nil fields are
// left out.
type Params interface {
	Encode(f Form)
}

// Form is a form-encoded request body using the provider's bracket syntax
// for nested keys (metadata[k], discounts[0][coupon], expand[]).
type Form struct {
	url.Values
}

// NewForm returns an empty form.
func NewForm() Form {
	return Form{Values: url.Values{}}
}

// EncodeParams encodes p into a new form. A nil p yields an empty form.
func EncodeParams(p Params) Form {
	f := NewForm()
	if p != nil {
		p.Encode(f)
	}
	return f
}

// SetString sets key when v is not nil.
func (f Form) SetString(key string, v *string) {
	if v != nil {
		f.Set(key, *v)
	}
}

// SetInt sets key when v is not nil.
func (f Form) SetInt(key string, v *int64) {
	if v != nil {
		f.Set(key, strconv.FormatInt(*v, 10))
	}
}

// SetFloat sets key when v is not nil.
func (f Form) SetFloat(key string, v *float64) {
	if v != nil {
		f.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
	}
}

// SetBool sets key when v is not nil.
func (f Form) SetBool(key string, v *bool) {
	if v != nil {
		f.Set(key, strconv.FormatBool(*v))
	}
}

// Metadata sets metadata[k] for every entry, in key order.
func (f Form) Metadata(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.Set("metadata["+k+"]", m[k])
	}
}

// Expand adds expand[] entries.
func (f Form) Expand(paths ...string) {
	for _, p := range paths {
		f.Add("expand[]", p)
	}
}

// CustomerParams are the writable fields of a customer.
type CustomerParams struct {
	Email       *string
	Name        *string
	Description *string
	Phone       *string
	Metadata    map[string]string
}

// Encode implements Params.
func (p *CustomerParams) Encode(f Form) {
	f.SetString("email", p.Email)
	f.SetString("name", p.Name)
	f.SetString("description", p.Description)
	f.SetString("phone", p.Phone)
	f.Metadata(p.Metadata)
}

// CustomerListParams filter a customer listing.
type CustomerListParams struct {
	Email *string
	Limit int64
}

// Encode implements Params.
func (p *CustomerListParams) Encode(f Form) {
	f.SetString("email", p.Email)
	encodeLimit(f, p.Limit)
}

// PriceData describes the price created inline with a product.
type PriceData struct {
	Currency   string
	UnitAmount int64
}

// ProductParams are the writable fields of a product. DefaultPriceData is
// only accepted on create, DefaultPrice only on update.
type ProductParams struct {
	ID               *string
	Name             *string
	Active           *bool
	Description      *string
	URL              *string
	DefaultPrice     *string
	DefaultPriceData *PriceData
	Metadata         map[string]string
}

// Encode implements Params.
func (p *ProductParams) Encode(f Form) {
	f.SetString("id", p.ID)
	f.SetString("name", p.Name)
	f.SetBool("active", p.Active)
	f.SetString("description", p.Description)
	f.SetString("url", p.URL)
	f.SetString("default_price", p.DefaultPrice)
	if p.DefaultPriceData != nil {
		f.Set("default_price_data[currency]", p.DefaultPriceData.Currency)
		f.Set("default_price_data[unit_amount]", strconv.FormatInt(p.DefaultPriceData.UnitAmount, 10))
	}
	f.Metadata(p.Metadata)
}

// PriceParams create a standalone price.
type PriceParams struct {
	Product    string
	Currency   string
	UnitAmount int64
}

// Encode implements Params.
func (p *PriceParams) Encode(f Form) {
	f.Set("product", p.Product)
	f.Set("currency", p.Currency)
	f.Set("unit_amount", strconv.FormatInt(p.UnitAmount, 10))
}

// CouponParams create a coupon.
type CouponParams struct {
	Name             *string
	Duration         string
	DurationInMonths *int64
	PercentOff       *float64
	AmountOff        *int64
	Currency         *string
	Metadata         map[string]string
}

// Encode implements Params.
func (p *CouponParams) Encode(f Form) {
	f.SetString("name", p.Name)
	f.Set("duration", p.Duration)
	f.SetInt("duration_in_months", p.DurationInMonths)
	f.SetFloat("percent_off", p.PercentOff)
	f.SetInt("amount_off", p.AmountOff)
	f.SetString("currency", p.Currency)
	f.Metadata(p.Metadata)
}

// InvoiceParams create a draft invoice.
type InvoiceParams struct {
	Customer         string
	AutoAdvance      *bool
	CollectionMethod *string
	Description      *string
	DueDate          *int64
	Metadata         map[string]string
}

// Encode implements Params.
func (p *InvoiceParams) Encode(f Form) {
	f.Set("customer", p.Customer)
	f.SetBool("auto_advance", p.AutoAdvance)
	f.SetString("collection_method", p.CollectionMethod)
	f.SetString("description", p.Description)
	f.SetInt("due_date", p.DueDate)
	f.Metadata(p.Metadata)
}

// InvoiceListParams filter an invoice listing.
type InvoiceListParams struct {
	Customer *string
	Status   *string
	Limit    int64
}

// Encode implements Params.
func (p *InvoiceListParams) Encode(f Form) {
	f.SetString("customer", p.Customer)
	f.SetString("status", p.Status)
	encodeLimit(f, p.Limit)
}

// FinalizeParams finalize a draft invoice.
type FinalizeParams struct {
	AutoAdvance *bool
}

// Encode implements Params.
func (p *FinalizeParams) Encode(f Form) {
	f.SetBool("auto_advance", p.AutoAdvance)
}

// DiscountParam references a coupon applied to an invoice item.
type DiscountParam struct {
	Coupon string
}

// InvoiceItemParams are the writable fields of an invoice item. A nil
// Discounts leaves the discounts untouched; a non-nil empty slice clears
// them.
type InvoiceItemParams struct {
	Invoice     *string
	Customer    *string
	Description *string
	Price       *string
	Discounts   *[]DiscountParam
	Metadata    map[string]string
}

// Encode implements Params.
func (p *InvoiceItemParams) Encode(f Form) {
	f.SetString("invoice", p.Invoice)
	f.SetString("customer", p.Customer)
	f.SetString("description", p.Description)
	f.SetString("price", p.Price)
	if p.Discounts != nil {
		if len(*p.Discounts) == 0 {
			f.Set("discounts", "")
		}
		for i, d := range *p.Discounts {
			f.Set("discounts["+strconv.Itoa(i)+"][coupon]", d.Coupon)
		}
	}
	f.Metadata(p.Metadata)
}

// InvoiceItemListParams filter an invoice item listing.
type InvoiceItemListParams struct {
	Invoice *string
	Limit   int64
}

// Encode implements Params.
func (p *InvoiceItemListParams) Encode(f Form) {
	f.SetString("invoice", p.Invoice)
	encodeLimit(f, p.Limit)
}

func encodeLimit(f Form, limit int64) {
	if limit > 0 {
		f.Set("limit", strconv.FormatInt(limit, 10))
	}
}

// String returns a pointer to v.
func String(v string) *string { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
