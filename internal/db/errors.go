package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStorageUnavailable marks failures of the store itself, as opposed to
	// failures caused by the request.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUniqueViolation is returned when an insert hits a unique index.
	ErrUniqueViolation = errors.New("unique constraint violated")
	// ErrValueOutOfRange is returned when a value does not fit its column.
	ErrValueOutOfRange = errors.New("value out of range")
)

// Classify maps driver errors onto the package sentinels. Errors it does not
// recognise are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrUniqueViolation) || errors.Is(err, ErrValueOutOfRange) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return fmt.Errorf("%w (%s): %w", ErrUniqueViolation, pgErr.ConstraintName, err)
		case pgErr.Code == pgerrcode.NumericValueOutOfRange:
			return fmt.Errorf("%w: %w", ErrValueOutOfRange, err)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return err
}
