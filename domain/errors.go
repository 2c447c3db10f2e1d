package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownBoard is returned for boards missing from the layout.
	ErrUnknownBoard = errors.New("unknown board")
	// ErrNotFound is returned when an item has no placement on the board.
	ErrNotFound = errors.New("item not found")
	// ErrAlreadyExists is returned when an item is added twice.
	ErrAlreadyExists = errors.New("item already exists")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
