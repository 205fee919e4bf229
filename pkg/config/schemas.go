package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Values checked against
// a schema must be built with the registry's Context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.registerBuiltInSchemas(); err != nil {
		panic(err)
	}

	return sr
}

// Context returns the CUE context schemas are compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// registerBuiltInSchemas compiles the built-in definitions and registers
// each one under its lower-case name.
func (sr *SchemaRegistry) registerBuiltInSchemas() error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(builtinSchema, cue.Filename("declabill.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile built-in schema: %w", err)
	}

	for name, def := range map[string]string{
		"document":    "#Document",
		"product":     "#Product",
		"customer":    "#Customer",
		"coupon":      "#Coupon",
		"invoice":     "#Invoice",
		"invoiceitem": "#InvoiceItem",
	} {
		v := val.LookupPath(cue.ParsePath(def))
		if !v.Exists() {
			return fmt.Errorf("built-in schema %s not found", def)
		}
		sr.schemas[name] = v
	}
	return nil
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies v with the named schema and checks that the result is
// concrete. The returned value is the validated document.
func (sr *SchemaRegistry) Unify(schemaName string, v cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateProduct validates a product against the product schema.
func (sr *SchemaRegistry) ValidateProduct(product ProductConfig) error {
	return sr.ValidateAgainstSchema("product", product)
}

// ValidateCustomer validates a customer against the customer schema.
func (sr *SchemaRegistry) ValidateCustomer(customer CustomerConfig) error {
	return sr.ValidateAgainstSchema("customer", customer)
}

// ValidateInvoice validates an invoice, items included, against the
// invoice schema.
func (sr *SchemaRegistry) ValidateInvoice(invoice InvoiceConfig) error {
	return sr.ValidateAgainstSchema("invoice", invoice)
}

// Built-in schema definitions

const builtinSchema = `
#Metadata: {[string]: string}

// Document is a complete desired state.
#Document: {
	version?: string
	mode?:    "finsert" | "upsert"

	products?:  [...#Product]
	customers?: [...#Customer]
	invoices?:  [...#Invoice]
}

// Product ids are chosen by the caller. Price is in cents (USD).
#Product: {
	id:           string & =~"^[a-zA-Z0-9_-]+$"
	name?:        string
	active?:      bool
	description?: string
	url?:         string & =~"^https?://"
	price?:       int & >=0
	metadata?:    #Metadata
}

#Customer: {
	email:        string & =~"^[^@\\s]+@[^@\\s]+$"
	name?:        string
	description?: string
	phone?:       string
	metadata?:    #Metadata
}

#Coupon: {
	name?:             string
	duration:          "once" | "forever" | "repeating"
	durationInMonths?: int & >0
	percentOff?:       number & >0 & <=100
	amountOff?:        int & >0
	metadata?:         #Metadata
}

#InvoiceItem: {
	exid:         string & !=""
	product:      string & !=""
	description?: string
	discounts?:   [...#Coupon]
	metadata?:    #Metadata
}

#Invoice: {
	exid:              string & !=""
	customer:          string & =~"^[^@\\s]+@[^@\\s]+$"
	target?:           "draft" | "open" | "paid" | "void" | "sent"
	autoAdvance?:      bool
	collectionMethod?: "charge_automatically" | "send_invoice"
	description?:      string
	dueDate?:          string & =~"^[0-9]{4}-[0-9]{2}-[0-9]{2}"
	metadata?:         #Metadata
	items?:            [...#InvoiceItem]
}
`
