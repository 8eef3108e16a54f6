package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors.
var (
	ErrUnknownOutcome = errors.New("unknown ingestion outcome")
)

// Ingestion outcome labels.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// CheckOutcome reports whether outcome is one of the known labels.
func CheckOutcome(outcome string) error {
	switch outcome {
	case OutcomeAccepted, OutcomeRejected, OutcomeDuplicate, OutcomeError:
		return nil
	default:
		return ErrUnknownOutcome
	}
}
