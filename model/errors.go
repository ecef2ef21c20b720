package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrNotFound           = "NOT_FOUND"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Wizard-specific error codes.
const (
	ErrSchemaUnavailable = "SCHEMA_UNAVAILABLE"
	ErrNoDocument        = "NO_DOCUMENT"
	ErrSimulatedFailure  = "SIMULATED_FAILURE"
)

// ErrorEnvelope is the coded error used across the gateway, the store, and
// the reference backend. Status carries the HTTP status the error was
// received with or should be sent with; zero means the backend was never
// reached.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Status  int          `json:"status,omitempty"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg, Status: http.StatusBadRequest}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg, Status: http.StatusNotFound}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error for a
// backend that could not be reached.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewStatusError returns the error for a non-success backend response.
func NewStatusError(status int, code, msg string) *ErrorEnvelope {
	if code == "" {
		code = codeForStatus(status)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ErrorEnvelope{Code: code, Message: msg, Status: status}
}

// NewSchemaUnavailableError returns the error for a category without a template.
func NewSchemaUnavailableError(productType string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSchemaUnavailable,
		Message: fmt.Sprintf("Schema not available for %s. Please try again.", productType),
	}
}

// NewNoDocumentError returns the error for an operation that needs a live document.
func NewNoDocumentError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNoDocument, Message: "No form data to save"}
}

// AsEnvelope extracts an ErrorEnvelope from an error chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// CodeOf returns the envelope code of err, or "" if err carries none.
func CodeOf(err error) string {
	if ee, ok := AsEnvelope(err); ok {
		return ee.Code
	}
	return ""
}

// StatusOf returns the HTTP status of err; zero for errors raised before a
// response was received.
func StatusOf(err error) int {
	if ee, ok := AsEnvelope(err); ok {
		return ee.Status
	}
	return 0
}

// IsConnectivity reports whether err means the backend was never reached.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	ee, ok := AsEnvelope(err)
	if !ok {
		return false
	}
	return ee.Status == 0 && (ee.Code == ErrBackendUnavailable || ee.Code == ErrBackendTimeout)
}

// IsPermanent reports whether retrying the same request cannot succeed:
// the backend rejected the request itself or the target does not exist.
func IsPermanent(err error) bool {
	switch StatusOf(err) {
	case http.StatusBadRequest, http.StatusNotFound:
		return true
	}
	return false
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrBadRequest
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnprocessableEntity:
		return ErrValidationError
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return ErrBackendUnavailable
	case status == http.StatusGatewayTimeout:
		return ErrBackendTimeout
	default:
		return ErrInternalError
	}
}
