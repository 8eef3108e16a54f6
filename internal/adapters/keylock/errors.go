package keylock

import "errors"

var (
	// ErrLockTimeout is returned when ctx ends before the key is acquired.
	ErrLockTimeout = errors.New("lock wait cancelled")
	// ErrLockBackend wraps failures of a remote lock backend.
	ErrLockBackend = errors.New("lock backend failure")
)
