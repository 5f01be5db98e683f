package ielts

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the ledger, session and analysis packages.
// Callers match them with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidState           = errors.New("invalid state")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrUnknownTestType        = errors.New("unknown test type")
	ErrExternalServiceFailure = errors.New("external service failure")
	ErrValidation             = errors.New("validation error")

	// ErrNotReady is returned when an analysis has not been produced yet.
	// It is a polling signal, not a failure.
	ErrNotReady = errors.New("analysis not ready")
)

// StateError describes an illegal lifecycle transition.
type StateError struct {
	Module Module
	From   Status
	Event  Event
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s session: cannot %s from %s", e.Module, e.Event, e.From)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError reports a malformed answer payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExternalError wraps a failure of the external grader.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the provider error.
func (e *ExternalError) Unwrap() []error {
	return []error{ErrExternalServiceFailure, e.Err}
}
