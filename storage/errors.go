package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a ticket is not found.
	ErrNotFound = errors.New("ticket not found")

	// ErrExists is returned when creating a ticket whose id is taken.
	ErrExists = errors.New("ticket already exists")
)
