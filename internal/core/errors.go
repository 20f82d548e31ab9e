package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a tenant-scoped lookup (queue entry, item,
	// document, lot, product) finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when an operation is not allowed from the
	// queue entry's current status.
	ErrInvalidTransition = errors.New("invalid queue status transition")

	// ErrMappingRequired is returned by operations that need a product mapping
	// when none resolves for the line item.
	ErrMappingRequired = errors.New("product mapping required")

	// ErrMissingCounterparty is returned when the document recipient has no
	// client record for the tenant.
	ErrMissingCounterparty = errors.New("counterparty not found")

	// ErrInsufficientBalance is returned when a manual allocation would drive a
	// lot balance below zero.
	ErrInsufficientBalance = errors.New("insufficient lot balance")
)

// FieldError is one problem found while validating an input document or request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input. It is never persisted.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Message, strings.Join(parts, "; "))
}

func newValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
