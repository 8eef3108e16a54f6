package repository

import "errors"

var (
	// ErrInvalidUserID is returned for ids that are empty, too long or unsafe as file names.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
	// ErrNilState is returned by Save for a nil state.
	ErrNilState = errors.New("nil profile state")
	// ErrStorage wraps backend I/O failures.
	ErrStorage = errors.New("storage failure")
	// ErrUnknownBackend is returned by Open for unsupported backend names.
	ErrUnknownBackend = errors.New("unknown storage backend")
)
