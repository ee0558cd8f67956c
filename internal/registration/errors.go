package registration

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every *ValidationError. Rejected reports leave the store untouched.
	ErrValidation = errors.New("registration: validation failed")

	// ErrNotFound is returned by Get for an unknown device id.
	ErrNotFound = errors.New("registration: device not found")
)

// Rejection reason codes.
const (
	CodeInvalidAttribute   = "invalid_attribute"
	CodeInvalidMAC         = "invalid_mac"
	CodeInvalidIP          = "invalid_ip"
	CodeIncompleteTaxonomy = "incomplete_taxonomy"
)

type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
