package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidService  = errors.New("invalid service config")
)
