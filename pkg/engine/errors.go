package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for the caller's recovery decision.
// The engine itself never retries; the class only tells callers whether
// re-invoking the same operation can help.
type ErrorClass string

const (
	// ErrorClassTransient marks failures that may succeed when re-invoked,
	// such as a network timeout while talking to the billing provider.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict marks a state conflict on the remote side.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent marks failures that will not go away on retry:
	// illegal transitions, malformed refs, ambiguous matches.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeAmbiguous     = "AMBIGUOUS"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInvalidShape  = "INVALID_SHAPE"
	ErrCodeCollectionCap = "COLLECTION_CAP"
	ErrCodeLockFailed    = "LOCK_FAILED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// EngineError is a classified error with context about the entity and
// operation that produced it.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the programmatic error code (ErrCode*).
	Code string `json:"code,omitempty"`

	// Resource identifies the entity involved, usually "kind/id" or "kind/unique".
	Resource string `json:"resource,omitempty"`

	// Operation is the engine operation (finsert, upsert, open, ...).
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Details carries extra context, e.g. the conflicting ids.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewValidationError reports an illegal request: a forbidden lifecycle
// transition, a malformed ref, or a reference that does not resolve.
func NewValidationError(message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeValidation)
}

// NewAmbiguityError reports that the remote data does not identify a single
// record: several records share a unique key, or the found id differs from
// the one the caller expected.
func NewAmbiguityError(message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeAmbiguous)
}

// NewInvalidShapeError reports a remote record missing a field the engine
// requires. Such a record is not a valid instance of the declared entity.
func NewInvalidShapeError(kind, message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeInvalidShape).WithResource(kind)
}

// ErrValidation, ErrAmbiguous and ErrInvalidShape match errors of the
// corresponding code via errors.Is.
var (
	ErrValidation   = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}
	ErrAmbiguous    = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeAmbiguous}
	ErrInvalidShape = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeInvalidShape}
)

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsAmbiguous returns true if err is an AmbiguityError.
func IsAmbiguous(err error) bool {
	return hasCode(err, ErrCodeAmbiguous)
}

// IsInvalidShape returns true if err reports a malformed remote record.
func IsInvalidShape(err error) bool {
	return hasCode(err, ErrCodeInvalidShape)
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if re-invoking the operation may succeed.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}
