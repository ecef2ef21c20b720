// Package transport contains the HTTP router, the middleware chain, and the
// JSON response helpers of the reference backend.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/intake/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes for envelopes
// that do not carry a status of their own.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrSchemaUnavailable:  http.StatusNotFound,
	model.ErrNoDocument:         http.StatusBadRequest,
}

// errorResponse is the wire form of an error: {"error": {...}}.
type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response. The envelope's own
// Status wins over the code mapping. Anything that is not an envelope
// becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}

	status := ee.Status
	if status == 0 {
		status = statusForCode[ee.Code]
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}

	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewBadRequestError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}
