package config

import (
	"github.com/shopspring/decimal"

	"github.com/declabill/declabill/pkg/billing"
	"github.com/declabill/declabill/pkg/engine"
)

// ApplyMode returns the document's write semantics, upsert when unset.
func (d *Document) ApplyMode() engine.ApplyMode {
	if d.Mode == "" {
		return engine.ModeUpsert
	}
	return engine.ApplyMode(d.Mode)
}

// Desired converts the document into the billing desired state.
// Invoice and item references are expressed by unique key (customer email,
// exid) so that the document never mentions provider ids.
func (d *Document) Desired() (*billing.Desired, error) {
	out := &billing.Desired{}

	for _, p := range d.Products {
		out.Products = append(out.Products, billing.Product{
			ID:          p.ID,
			Name:        p.Name,
			Active:      p.Active,
			Description: p.Description,
			URL:         p.URL,
			Price:       p.Price,
			Metadata:    p.Metadata,
		})
	}

	for _, c := range d.Customers {
		out.Customers = append(out.Customers, billing.Customer{
			Email:       c.Email,
			Name:        c.Name,
			Description: c.Description,
			Phone:       c.Phone,
			Metadata:    c.Metadata,
		})
	}

	for _, inv := range d.Invoices {
		di, err := inv.desired()
		if err != nil {
			return nil, err
		}
		out.Invoices = append(out.Invoices, di)
	}
	return out, nil
}

func (c *InvoiceConfig) desired() (billing.DesiredInvoice, error) {
	customer := billing.CustomerByEmail(c.Customer)
	di := billing.DesiredInvoice{
		Invoice: billing.Invoice{
			Exid:             c.Exid,
			Customer:         customer,
			AutoAdvance:      c.AutoAdvance,
			CollectionMethod: c.CollectionMethod,
			Description:      c.Description,
			Metadata:         c.Metadata,
		},
		Target: billing.InvoiceTarget(c.Target),
	}

	if c.DueDate != nil {
		due, err := ParseDate(*c.DueDate)
		if err != nil {
			return di, engine.NewValidationError(err.Error()).WithResource(billing.KindInvoice)
		}
		di.Invoice.DueDate = &due
	}

	if c.Items == nil {
		return di, nil
	}
	ref := billing.InvoiceByExid(customer, c.Exid)
	di.Items = make([]billing.InvoiceItem, 0, len(*c.Items))
	for _, it := range *c.Items {
		item := billing.InvoiceItem{
			Exid:        it.Exid,
			Invoice:     ref,
			Product:     billing.ProductByID(it.Product),
			Description: it.Description,
			Metadata:    it.Metadata,
		}
		if it.Discounts != nil {
			coupons := make([]billing.Coupon, 0, len(*it.Discounts))
			for _, cp := range *it.Discounts {
				coupons = append(coupons, cp.coupon())
			}
			item.Discounts = &coupons
		}
		di.Items = append(di.Items, item)
	}
	return di, nil
}

func (c *CouponConfig) coupon() billing.Coupon {
	out := billing.Coupon{
		Name:             c.Name,
		Duration:         c.Duration,
		DurationInMonths: c.DurationInMonths,
		AmountOff:        c.AmountOff,
		Metadata:         c.Metadata,
	}
	if c.PercentOff != nil {
		pct := decimal.NewFromFloat(*c.PercentOff)
		out.PercentOff = &pct
	}
	return out
}
