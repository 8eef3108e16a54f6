package testevents

import (
	"errors"
	"fmt"
	"math"

	"github.com/okian/psyche/internal/domain/model"
)

const shareTolerance = 0.01

// VerifySnapshot checks the invariants every rendered profile must satisfy.
// accepted is the number of events the run saw accepted for the user.
func VerifySnapshot(snap model.ProfileSnapshot, accepted int) error {
	var errs []error
	for _, t := range snap.Traits {
		if t.Score < 1 || t.Score > 100 {
			errs = append(errs, fmt.Errorf("trait %s score %d outside [1,100]", t.ID, t.Score))
		}
		if !inUnit(t.Confidence) {
			errs = append(errs, fmt.Errorf("trait %s confidence %v outside [0,1]", t.ID, t.Confidence))
		}
	}

	p := snap.Psyche
	for name, v := range map[string]float64{
		"connection": p.Connection, "structure": p.Structure, "emergence": p.Emergence,
		"depth": p.Depth, "shadow": p.Shadow,
	} {
		if !inUnit(v) {
			errs = append(errs, fmt.Errorf("psyche %s %v outside [0,1]", name, v))
		}
	}

	var total float64
	for _, s := range snap.ArchetypeMix {
		if !inUnit(s.Share) {
			errs = append(errs, fmt.Errorf("archetype %s share %v outside [0,1]", s.Dimension, s.Share))
		}
		total += s.Share
	}
	if total > 0 && math.Abs(total-1) > shareTolerance {
		errs = append(errs, fmt.Errorf("archetype shares sum to %v", total))
	}

	if snap.Completion < 0 || snap.Completion > 100 {
		errs = append(errs, fmt.Errorf("completion %d outside [0,100]", snap.Completion))
	}
	if snap.EventCount != accepted {
		errs = append(errs, fmt.Errorf("eventCount %d, %d accepted", snap.EventCount, accepted))
	}
	return errors.Join(errs...)
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
