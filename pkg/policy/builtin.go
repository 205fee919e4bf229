package policy

import (
	"time"
)

// DefaultMaxDeletes is the number of deletes a plan may carry before the
// bulk-delete policy denies it. Override with the max_deletes context
// metadata.
const DefaultMaxDeletes = 50

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		bulkDeletePolicy(),
		invoiceVoidPolicy(),
		invoiceChargePolicy(),
		productionVoidPolicy(),
	}
}

// bulkDeletePolicy stops plans that remove many entities at once.
func bulkDeletePolicy() Policy {
	return Policy{
		Name:        "bulk-delete",
		Description: "Denies plans deleting more entities than max_deletes (default 50)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "delete"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package declabill.policies.bulk_delete

import rego.v1

max_deletes := object.get(input.context.metadata, "max_deletes", 50)

deletes := [step | some step in input.plan.steps; step.action == "delete"]

deny contains violation if {
	count(deletes) > max_deletes
	violation := {
		"message": sprintf("Plan deletes %d entities, more than the limit of %d", [count(deletes), max_deletes]),
		"severity": "error",
	}
}
`,
	}
}

// invoiceVoidPolicy surfaces every void in the plan.
func invoiceVoidPolicy() Policy {
	return Policy{
		Name:        "invoice-void",
		Description: "Warns about invoices the plan voids",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"lifecycle"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package declabill.policies.invoice_void

import rego.v1

deny contains violation if {
	some step in input.plan.steps
	step.action == "transition"
	step.verb == "void"
	violation := {
		"message": sprintf("Invoice %s will be voided", [step.key]),
		"severity": "warning",
		"kind": step.kind,
		"key": step.key,
	}
}
`,
	}
}

// invoiceChargePolicy surfaces every charge in the plan.
func invoiceChargePolicy() Policy {
	return Policy{
		Name:        "invoice-charge",
		Description: "Warns about invoices the plan charges",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"lifecycle", "money"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package declabill.policies.invoice_charge

import rego.v1

deny contains violation if {
	some step in input.plan.steps
	step.action == "transition"
	step.verb == "charge"
	violation := {
		"message": sprintf("Invoice %s will be charged", [step.key]),
		"severity": "warning",
		"kind": step.kind,
		"key": step.key,
	}
}
`,
	}
}

// productionVoidPolicy blocks voids in production unless the context
// explicitly allows them.
func productionVoidPolicy() Policy {
	return Policy{
		Name:        "production-void",
		Description: "Denies voiding invoices in production unless allow_void is set",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"lifecycle", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package declabill.policies.production_void

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	not input.context.metadata.allow_void
	some step in input.plan.steps
	step.action == "transition"
	step.verb == "void"
	violation := {
		"message": sprintf("Voiding invoice %s in production requires allow_void", [step.key]),
		"severity": "critical",
		"kind": step.kind,
		"key": step.key,
	}
}
`,
	}
}
