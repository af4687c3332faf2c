package memstore

import "errors"

var (
	// ErrNotFound is returned when a memory is not known to the store.
	ErrNotFound = errors.New("memory not found in store")

	// ErrConnection is returned when the memory store cannot be reached.
	ErrConnection = errors.New("memory store connection failed")
)
