package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInsufficientStock is returned when a decrement would drive a
	// quantity cell below zero. Nothing is written.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleState is returned by status compare-and-swap updates when the
	// row is no longer in the expected state.
	ErrStaleState = errors.New("document state changed concurrently")
	// ErrDuplicateSerial is returned when a serial already exists in the tenant.
	ErrDuplicateSerial = errors.New("duplicate serial number")
	// ErrDuplicateKey is returned when a code or SKU is already taken in the tenant.
	ErrDuplicateKey = errors.New("duplicate key")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func mapUnique(err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}
