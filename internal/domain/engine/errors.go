package engine

import (
	"errors"
	"strings"

	"github.com/okian/psyche/internal/domain/validation"
)

var (
	// ErrInvalidEvent is wrapped by every ValidationError.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidConfig is returned by New.
	ErrInvalidConfig = errors.New("invalid engine config")
)

// ValidationError carries the structured rejection of IngestStrict.
type ValidationError struct {
	Result validation.Result
}

func (e *ValidationError) Error() string {
	reasons := e.Result.Reasons()
	if len(reasons) == 0 {
		return ErrInvalidEvent.Error()
	}
	return ErrInvalidEvent.Error() + ": " + strings.Join(reasons, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEvent }
