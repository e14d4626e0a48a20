// Package apperr holds the error taxonomy shared by services and handlers.
// Services wrap these sentinels; handlers map them to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")

	ErrVerificationFailed = errors.New("verification failed")
	ErrOracleUnavailable  = errors.New("oracle unavailable")
	ErrSourceNotFound     = errors.New("source not found")
	ErrStorage            = errors.New("storage failure")
)

// Validation returns an ErrValidation carrying msg.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing resource.
func NotFound(resource string) error {
	return fmt.Errorf("%s %w", resource, ErrNotFound)
}

// StateError reports a transition attempted from a state that does not allow it.
type StateError struct {
	Resource string
	Current  string
	Msg      string
}

func (e *StateError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "already finalized"
	}
	return fmt.Sprintf("%s %s (current status: %s)", e.Resource, msg, e.Current)
}

func (e *StateError) Unwrap() error { return ErrConflict }

// Finalized builds the StateError used when a resource left its initial state.
func Finalized(resource, current string) error {
	return &StateError{Resource: resource, Current: current}
}
