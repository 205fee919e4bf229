package engine

import (
	"fmt"
)

// OperationType is the decision the engine took for one entity.
type OperationType string

const (
	// OperationCreate indicates the entity did not exist and was created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates the entity existed and was partially updated.
	OperationUpdate OperationType = "update"

	// OperationNoop indicates the entity existed and was returned unchanged.
	OperationNoop OperationType = "noop"

	// OperationDelete indicates the entity was removed from its collection.
	OperationDelete OperationType = "delete"

	// OperationTransition indicates a lifecycle verb was executed.
	OperationTransition OperationType = "transition"
)

// IsMutating returns true if the operation changes remote state.
func (o OperationType) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate ||
		o == OperationDelete || o == OperationTransition
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationNoop,
		OperationDelete, OperationTransition:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// ApplyMode selects between the two write semantics of the Applier.
type ApplyMode string

const (
	// ModeFinsert returns a found entity unchanged, otherwise creates it.
	ModeFinsert ApplyMode = "finsert"

	// ModeUpsert updates the explicit fields of a found entity, otherwise creates it.
	ModeUpsert ApplyMode = "upsert"
)

// Validate checks if the apply mode is valid.
func (m ApplyMode) Validate() error {
	switch m {
	case ModeFinsert, ModeUpsert:
		return nil
	default:
		return fmt.Errorf("invalid apply mode: %s", m)
	}
}

// InvoiceStatus is the lifecycle status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// IsTerminal returns true if no local transition can leave the status.
// uncollectible is only ever set by the provider.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusVoid || s == InvoiceStatusUncollectible
}

// Validate checks if the invoice status is valid.
func (s InvoiceStatus) Validate() error {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid,
		InvoiceStatusUncollectible, InvoiceStatusVoid:
		return nil
	default:
		return fmt.Errorf("invalid invoice status: %s", s)
	}
}

// LifecycleVerb names an invoice lifecycle operation.
type LifecycleVerb string

const (
	VerbOpen   LifecycleVerb = "open"
	VerbCharge LifecycleVerb = "charge"
	VerbVoid   LifecycleVerb = "void"
	VerbSend   LifecycleVerb = "send"
)

// Validate checks if the verb is valid.
func (v LifecycleVerb) Validate() error {
	switch v {
	case VerbOpen, VerbCharge, VerbVoid, VerbSend:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle verb: %s", v)
	}
}

// TransitionDecision is what a lifecycle verb must do given the current status.
type TransitionDecision int

const (
	// TransitionExecute means the remote action must be called.
	TransitionExecute TransitionDecision = iota

	// TransitionAlreadyDone means the invoice is already in the target
	// state and must be returned as is.
	TransitionAlreadyDone
)

type transitionRule struct {
	source   InvoiceStatus
	target   InvoiceStatus
	rejected map[InvoiceStatus]string
	fallback string
}

var transitionRules = map[LifecycleVerb]transitionRule{
	VerbOpen: {
		source:   InvoiceStatusDraft,
		target:   InvoiceStatusOpen,
		fallback: "can not open an invoice that is not in draft",
	},
	VerbCharge: {
		source:   InvoiceStatusOpen,
		target:   InvoiceStatusPaid,
		fallback: "can not charge an invoice that is not open",
	},
	VerbVoid: {
		source:   InvoiceStatusOpen,
		target:   InvoiceStatusVoid,
		fallback: "can not void an invoice that is not open",
	},
	VerbSend: {
		source: InvoiceStatusOpen,
		rejected: map[InvoiceStatus]string{
			InvoiceStatusPaid: "can not send an invoice that was already paid",
		},
		fallback: "can not send an invoice that is not open",
	},
}

// Transition decides what verb must do for an invoice currently in status
// current. A self-loop into the verb's target state is reported as
// TransitionAlreadyDone. Any other status outside the verb's source is a
// ValidationError.
func Transition(verb LifecycleVerb, current InvoiceStatus) (TransitionDecision, error) {
	rule, ok := transitionRules[verb]
	if !ok {
		return 0, NewValidationError(fmt.Sprintf("unknown lifecycle verb %q", verb))
	}

	if current == rule.source {
		return TransitionExecute, nil
	}
	if rule.target != "" && current == rule.target {
		return TransitionAlreadyDone, nil
	}
	if msg, rejected := rule.rejected[current]; rejected {
		return 0, NewValidationError(msg).
			WithOperation(string(verb)).
			WithDetail("status", string(current))
	}
	return 0, NewValidationError(rule.fallback).
		WithOperation(string(verb)).
		WithDetail("status", string(current))
}

// TargetStatus returns the status an invoice has after verb succeeds.
// Send does not change the status and returns the source status.
func TargetStatus(verb LifecycleVerb) InvoiceStatus {
	rule := transitionRules[verb]
	if rule.target == "" {
		return rule.source
	}
	return rule.target
}

// SourceStatus returns the status an invoice must be in for verb to run.
func SourceStatus(verb LifecycleVerb) InvoiceStatus {
	return transitionRules[verb].source
}
