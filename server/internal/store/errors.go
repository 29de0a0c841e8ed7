package store

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable indicates the backing store could not be reached or
	// failed the operation.
	ErrUnavailable = errors.New("store unavailable")
)
