package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrAlreadyRunning = errors.New("a reservation job is already running")
	ErrNotRunning     = errors.New("no reservation job is running")
	ErrLoginFailed    = errors.New("login failed")
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
