package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/remote"
)

// The cast functions map wire records into entities. A record missing a
// field the engine relies on is not a valid instance of the entity and is
// rejected with an INVALID_SHAPE error; no defaults are filled in.

func castCustomer(c *remote.Customer) (*Customer, error) {
	if c.ID == "" {
		return nil, engine.NewInvalidShapeError(KindCustomer, "customer has no id")
	}
	if c.Email == nil || *c.Email == "" {
		return nil, engine.NewInvalidShapeError(KindCustomer, "customer "+c.ID+" has no email")
	}
	return &Customer{
		ID:          c.ID,
		Email:       *c.Email,
		Name:        c.Name,
		Description: c.Description,
		Phone:       c.Phone,
		Metadata:    c.Metadata,
	}, nil
}

func castProduct(p *remote.Product) (*Product, error) {
	if p.ID == "" {
		return nil, engine.NewInvalidShapeError(KindProduct, "product has no id")
	}
	if !p.DefaultPrice.Expanded() {
		return nil, engine.NewInvalidShapeError(KindProduct,
			"product "+p.ID+" has no expanded default price")
	}
	if p.DefaultPrice.UnitAmount == nil {
		return nil, engine.NewInvalidShapeError(KindProduct,
			"default price of product "+p.ID+" has no unit amount")
	}
	name := p.Name
	active := p.Active
	amount := *p.DefaultPrice.UnitAmount
	return &Product{
		ID:          p.ID,
		Name:        &name,
		Active:      &active,
		Description: p.Description,
		URL:         p.URL,
		Price:       &amount,
		PriceID:     p.DefaultPrice.ID,
		Metadata:    p.Metadata,
	}, nil
}

func castCoupon(c *remote.Coupon) (*Coupon, error) {
	if c.ID == "" {
		return nil, engine.NewInvalidShapeError(KindCoupon, "coupon has no id")
	}
	if c.Duration == "" {
		return nil, engine.NewInvalidShapeError(KindCoupon, "coupon "+c.ID+" has no duration")
	}
	out := &Coupon{
		ID:               c.ID,
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
	return out, nil
}

func castInvoice(in *remote.Invoice) (*Invoice, error) {
	if in.ID == "" {
		return nil, engine.NewInvalidShapeError(KindInvoice, "invoice has no id")
	}
	exid := in.Metadata[MetadataExid]
	if exid == "" {
		return nil, engine.NewInvalidShapeError(KindInvoice, "invoice "+in.ID+" has no metadata.exid")
	}
	if in.Status == nil {
		return nil, engine.NewInvalidShapeError(KindInvoice, "invoice "+in.ID+" has no status")
	}
	status := engine.InvoiceStatus(*in.Status)
	if err := status.Validate(); err != nil {
		return nil, engine.NewInvalidShapeError(KindInvoice, "invoice "+in.ID+": "+err.Error())
	}
	if in.Customer == "" {
		return nil, engine.NewInvalidShapeError(KindInvoice, "invoice "+in.ID+" has no customer")
	}
	if in.AutoAdvance == nil {
		return nil, engine.NewInvalidShapeError(KindInvoice, "invoice "+in.ID+" has no auto_advance")
	}

	out := &Invoice{
		ID:            in.ID,
		Exid:          exid,
		Customer:      CustomerByID(in.Customer),
		Status:        status,
		AutoAdvance:   in.AutoAdvance,
		Description:   in.Description,
		TotalBillable: in.Total,
		Currency:      in.Currency,
		PortalURL:     in.HostedInvoiceURL,
		PDFURL:        in.InvoicePDF,
		ChargeID:      in.Charge,
		Metadata:      userMetadata(in.Metadata),
	}
	if in.CollectionMethod != "" {
		method := in.CollectionMethod
		out.CollectionMethod = &method
	}
	if in.DueDate != nil {
		due := time.Unix(*in.DueDate, 0).UTC()
		out.DueDate = &due
	}
	return out, nil
}

func castInvoiceItem(it *remote.InvoiceItem) (*InvoiceItem, error) {
	if it.ID == "" {
		return nil, engine.NewInvalidShapeError(KindInvoiceItem, "invoice item has no id")
	}
	exid := it.Metadata[MetadataExid]
	if exid == "" {
		return nil, engine.NewInvalidShapeError(KindInvoiceItem, "invoice item "+it.ID+" has no metadata.exid")
	}
	if it.Invoice == nil || *it.Invoice == "" {
		return nil, engine.NewInvalidShapeError(KindInvoiceItem, "invoice item "+it.ID+" has no invoice")
	}
	if !it.Price.Expanded() || it.Price.Product == "" {
		return nil, engine.NewInvalidShapeError(KindInvoiceItem,
			"invoice item "+it.ID+" has no expanded price with a product")
	}

	discounts := make([]Coupon, 0, len(it.Discounts))
	for _, d := range it.Discounts {
		if d.Coupon == nil {
			return nil, engine.NewInvalidShapeError(KindInvoiceItem,
				"discount "+d.ID+" of invoice item "+it.ID+" is not expanded")
		}
		c, err := castCoupon(d.Coupon)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, *c)
	}

	return &InvoiceItem{
		ID:          it.ID,
		Exid:        exid,
		Invoice:     InvoiceByID(*it.Invoice),
		Product:     ProductByID(it.Price.Product),
		Description: it.Description,
		Discounts:   &discounts,
		Amount:      it.Amount,
		Metadata:    userMetadata(it.Metadata),
	}, nil
}

// userMetadata returns metadata without the reserved exid key, nil when
// nothing else is left.
func userMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		if k != MetadataExid {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// withExid returns a copy of md carrying exid under the reserved key.
func withExid(md map[string]string, exid string) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[MetadataExid] = exid
	return out
}
