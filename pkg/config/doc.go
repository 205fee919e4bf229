// Package config loads desired-state documents and the runtime settings of
// declabill.
//
// # Overview
//
// A desired-state document lists the products, customers and invoices the
// billing provider should hold. Documents can be written in CUE, YAML or
// JSON, or generated by a Starlark script. Whatever the source format,
// the document is encoded as a CUE value, unified with the built-in
// #Document schema and checked with validator struct tags before it is
// handed to the billing service.
//
// # Components
//
// Parser: loads files and directories, merges the documents they contain
// and reports problems as ValidationErrors carrying file positions.
//
// SchemaRegistry: holds the built-in CUE definitions (#Document, #Product,
// #Customer, #Coupon, #Invoice, #InvoiceItem).
//
// StarlarkEvaluator: runs Starlark scripts under a timeout. Scripts see a
// `vars` dict and a `cents` builtin, and export the document through the
// globals products, customers, invoices and mode.
//
// Settings: API key, endpoint, journal path, redis URL and policy
// directory, read from the environment and .env files.
//
// # Usage Example
//
//	parser := config.NewParser()
//	parsed, err := parser.Load(ctx, "billing.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	desired, err := parsed.Document.Desired()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	plan, err := svc.Apply(ctx, desired, parsed.Document.ApplyMode(), guard)
//
// # Document Structure
//
//	mode: "upsert"
//	products: [{id: "pro", name: "Pro plan", price: 19700}]
//	customers: [{email: "ada@example.com", name: "Ada"}]
//	invoices: [{
//	    exid:     "2024-05"
//	    customer: "ada@example.com"
//	    target:   "open"
//	    items: [{exid: "seat-1", product: "pro"}]
//	}]
//
// The same document in Starlark:
//
//	products = [{"id": "pro", "price": cents("197.00")}]
//	customers = [{"email": e} for e in vars["emails"]]
package config
