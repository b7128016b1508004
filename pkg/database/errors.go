package database

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when an optimistic write lost against a concurrent writer.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrStoreUnavailable wraps transport faults and timeouts from the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
