package ledger

import (
	"errors"
	"fmt"

	"github.com/vasiliy-maslov/omnichannel-ledger/internal/db"
)

var (
	// ErrValidation matches every *ValidationError through errors.Is.
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid order status transition")

	ErrDuplicatePayment = errors.New("duplicate payment")

	ErrNotFound      = errors.New("not found")
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)

	// ErrConflict is returned when the order changed underneath the caller
	// or a generated order code collided.
	ErrConflict = errors.New("conflict")

	ErrStorageUnavailable = db.ErrStorageUnavailable
)

type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func invalidWrap(field string, err error) error {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}
