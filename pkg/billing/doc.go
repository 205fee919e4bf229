// Package billing is the declarative surface over the billing provider.
//
// It defines the entities (Customer, Product, Coupon, Invoice, InvoiceItem),
// their schemas and repositories, and a Service exposing:
//
//   - get and set operations for customers and products, in finsert or
//     upsert mode
//   - GenInvoiceDraft, which returns the draft invoice of (customer, exid)
//     and creates it when missing
//   - SetInvoiceItems, which makes the items of a draft invoice exactly
//     equal a desired list identified by exid
//   - the invoice lifecycle verbs open, charge, void and send
//
// Plan and Apply take a whole Desired state. Plan reads only; Apply vets
// the plan with an optional Guard and then converges the provider in the
// order products, customers, invoices.
//
//	svc := billing.NewService(api, billing.Config{Journal: journal})
//	defer svc.Close()
//
//	inv, err := svc.GenInvoiceDraft(ctx, &billing.Invoice{
//	    Exid:     "2024-05",
//	    Customer: billing.CustomerByEmail("ada@example.com"),
//	})
//
// The external correlation id of invoices and items is stored in provider
// metadata under the reserved "exid" key and stripped from Metadata on
// read.
package billing
