package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/magnus-im/CertificateManager/internal/ai"
	"github.com/magnus-im/CertificateManager/internal/core"
)

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	RequestID string            `json:"request_id,omitempty"`
	Fields    []core.FieldError `json:"fields,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, status, errorResponse{Error: message, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, resp errorResponse) {
	resp.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps a service error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case core.IsValidationError(err):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, core.ErrMappingRequired):
		return http.StatusConflict, "MAPPING_REQUIRED"
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.Is(err, core.ErrMissingCounterparty):
		return http.StatusUnprocessableEntity, "MISSING_COUNTERPARTY"
	case errors.Is(err, ai.ErrUnavailable):
		return http.StatusServiceUnavailable, "SUGGESTIONS_UNAVAILABLE"
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeServiceError writes err using errorStatus. Internal errors are not
// echoed to the client; the application layer has already logged them.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		resp.Error = ve.Message
		resp.Fields = ve.Fields
	}
	writeErrorResponse(w, r, status, resp)
}
