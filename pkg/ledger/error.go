package ledger

import "errors"

var (
	// ErrNotFound is returned when a memory row does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrNilMemory is returned when a nil memory is passed to a write.
	ErrNilMemory = errors.New("nil memory")
)
