package config

import (
	"time"
)

// Document is a desired-state document as written in CUE, YAML, JSON or
// produced by a Starlark script.
type Document struct {
	// Version is the document format version.
	Version string `json:"version,omitempty"`

	// Mode is the write semantics of the apply (finsert, upsert).
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=finsert upsert"`

	// Products are applied first, keyed by their caller-chosen id.
	Products []ProductConfig `json:"products,omitempty" validate:"dive"`

	// Customers are keyed by email.
	Customers []CustomerConfig `json:"customers,omitempty" validate:"dive"`

	// Invoices are keyed by (customer, exid).
	Invoices []InvoiceConfig `json:"invoices,omitempty" validate:"dive"`
}

// ProductConfig is a desired product. Price is in cents.
type ProductConfig struct {
	ID          string            `json:"id" validate:"required"`
	Name        *string           `json:"name,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	Description *string           `json:"description,omitempty"`
	URL         *string           `json:"url,omitempty" validate:"omitempty,url"`
	Price       *int64            `json:"price,omitempty" validate:"omitempty,gte=0"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CustomerConfig is a desired customer.
type CustomerConfig struct {
	Email       string            `json:"email" validate:"required,email"`
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Phone       *string           `json:"phone,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CouponConfig is a discount attached to an invoice item.
type CouponConfig struct {
	Name             *string           `json:"name,omitempty"`
	Duration         string            `json:"duration" validate:"required,oneof=once forever repeating"`
	DurationInMonths *int64            `json:"durationInMonths,omitempty" validate:"omitempty,gt=0"`
	PercentOff       *float64          `json:"percentOff,omitempty" validate:"omitempty,gt=0,lte=100"`
	AmountOff        *int64            `json:"amountOff,omitempty" validate:"omitempty,gt=0"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// InvoiceItemConfig is one line of a desired invoice.
type InvoiceItemConfig struct {
	Exid        string            `json:"exid" validate:"required"`
	Product     string            `json:"product" validate:"required"`
	Description *string           `json:"description,omitempty"`
	Discounts   *[]CouponConfig   `json:"discounts,omitempty" validate:"omitempty,dive"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InvoiceConfig is a desired invoice. Customer is the customer's email.
// A missing items field leaves the items of the invoice untouched; an
// empty list removes them all.
type InvoiceConfig struct {
	Exid             string               `json:"exid" validate:"required"`
	Customer         string               `json:"customer" validate:"required,email"`
	Target           string               `json:"target,omitempty" validate:"omitempty,oneof=draft open paid void sent"`
	AutoAdvance      *bool                `json:"autoAdvance,omitempty"`
	CollectionMethod *string              `json:"collectionMethod,omitempty" validate:"omitempty,oneof=charge_automatically send_invoice"`
	Description      *string              `json:"description,omitempty"`
	DueDate          *string              `json:"dueDate,omitempty"`
	Metadata         map[string]string    `json:"metadata,omitempty"`
	Items            *[]InvoiceItemConfig `json:"items,omitempty" validate:"omitempty,dive"`
}

// ParsedConfig is the merged result of loading one or more sources.
type ParsedConfig struct {
	// Document is the merged desired state.
	Document Document `json:"document"`

	// SourceFiles are the files that were loaded, in load order.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether loading produced errors.
func (p *ParsedConfig) HasErrors() bool {
	for _, e := range p.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Severity levels of a ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path of the error (e.g., "invoices[0].items").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity" validate:"required,oneof=error warning"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = formatPosition(e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return loc + ": " + e.Path + ": " + e.Message
	case loc != "":
		return loc + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}

// StarlarkResult represents the result of Starlark script execution.
type StarlarkResult struct {
	// Output contains the exported globals.
	Output map[string]interface{} `json:"output"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is the error message if execution failed.
	Error string `json:"error,omitempty"`
}
