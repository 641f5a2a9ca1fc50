package storage

import "errors"

var (
	// ErrNotFound is returned when no event has the requested id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an event id is already stored.
	// Stores never overwrite.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned for nil records, empty ids or empty symbols.
	ErrInvalidInput = errors.New("invalid input")
)
