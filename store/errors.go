package store

import "errors"

// Sentinel error kinds, wrapped with %w at every layer boundary so
// errors.Is classifies them end to end.
var (
	ErrAlreadyExists   = errors.New("store: already exists")
	ErrNotFound        = errors.New("store: not found")
	ErrConflictUnique  = errors.New("store: conflicting unique value")
	ErrInvalidArgument = errors.New("store: invalid argument")
	ErrIo              = errors.New("store: i/o error")
	ErrCorruption      = errors.New("store: corruption")
)
