package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound is matched by errors.Is for every error reporting a missing
// remote resource.
var ErrNotFound = errors.New("remote resource not found")

// Error types sent by the provider.
const (
	ErrorTypeAPI            = "api_error"
	ErrorTypeCard           = "card_error"
	ErrorTypeIdempotency    = "idempotency_error"
	ErrorTypeInvalidRequest = "invalid_request_error"
)

// Error codes used by the provider and the in-memory API.
const (
	CodeResourceMissing  = "resource_missing"
	CodeResourceExists   = "resource_already_exists"
	CodeInvalidState     = "invoice_not_editable"
	CodeParameterMissing = "parameter_missing"
)

// APIError is an error response of the billing provider.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Param      string `json:"param,omitempty"`
	RequestID  string `json:"-"`

	// raw is set when the body was not a provider error envelope.
	raw bool
}

// Error implements error.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (status %d", e.Message, e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, ", code %s", e.Code)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, ", request %s", e.RequestID)
	}
	b.WriteString(")")
	return b.String()
}

// Is reports whether the error matches ErrNotFound. Only decoded
// resource_missing errors do; a bare 404 is not a missing resource.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	return !e.raw && e.Code == CodeResourceMissing
}

// IsNotFound reports whether err signals a missing resource. Besides the
// structured ErrNotFound it accepts messages starting with "No such ",
// which is how the provider phrases missing resources.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.raw {
		return false
	}
	return strings.Contains(err.Error(), "No such ")
}

// ErrorCode returns a short label for err, suitable for metrics.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != "" {
			return apiErr.Code
		}
		if apiErr.Type != "" {
			return apiErr.Type
		}
		return http.StatusText(apiErr.StatusCode)
	}
	if errors.Is(err, ErrNotFound) {
		return CodeResourceMissing
	}
	return "transport"
}

func notFound(resource, id string) *APIError {
	return &APIError{
		StatusCode: http.StatusNotFound,
		Type:       ErrorTypeInvalidRequest,
		Code:       CodeResourceMissing,
		Message:    fmt.Sprintf("No such %s: '%s'", resource, id),
		Param:      "id",
	}
}

func badRequest(code, param, format string, args ...interface{}) *APIError {
	return &APIError{
		StatusCode: http.StatusBadRequest,
		Type:       ErrorTypeInvalidRequest,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Param:      param,
	}
}
