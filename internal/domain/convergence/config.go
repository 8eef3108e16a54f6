// Package convergence maintains the two-layer numeric state of every trait:
// a stable anchor (baseScore) plus a bounded drift (shiftZ) held in logit space.
package convergence

import (
	"fmt"

	"github.com/okian/psyche/internal/domain/model"
)

// Default tuning constants.
const (
	DefaultLearnRate        = 0.3
	DefaultEpsilon          = 0.001
	DefaultConfidenceScale  = 2.0
	DefaultBaseScore        = 50.0
	DefaultRecentEventLimit = 256
)

// Config holds the tuning knobs of the convergence rules.
type Config struct {
	// TierGain scales marker evidence per reliability tier (CORE > GROWTH > FLAVOR).
	TierGain map[model.Tier]float64
	// ShiftCap is the maximum |shiftZ| evidence of a tier may produce.
	ShiftCap map[model.Tier]float64
	// LearnRate is the fraction of the remaining gap covered by one observation nudge.
	LearnRate float64
	// Epsilon keeps probabilities away from 0 and 1 before the logit transform.
	Epsilon float64
	// ConfidenceScale is the shiftStrength at which confidence reaches 1-1/e.
	ConfidenceScale float64
	// DefaultBaseScore anchors traits first seen through marker evidence.
	DefaultBaseScore float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TierGain: map[model.Tier]float64{
			model.TierCore:   1.0,
			model.TierGrowth: 0.6,
			model.TierFlavor: 0.25,
		},
		ShiftCap: map[model.Tier]float64{
			model.TierCore:   2.5,
			model.TierGrowth: 1.5,
			model.TierFlavor: 0.75,
		},
		LearnRate:        DefaultLearnRate,
		Epsilon:          DefaultEpsilon,
		ConfidenceScale:  DefaultConfidenceScale,
		DefaultBaseScore: DefaultBaseScore,
	}
}

// Validate checks ranges and the tier ordering.
func (c Config) Validate() error {
	for _, t := range []model.Tier{model.TierCore, model.TierGrowth, model.TierFlavor} {
		if c.TierGain[t] <= 0 {
			return fmt.Errorf("%w: tier gain for %s must be > 0", ErrInvalidConfig, t)
		}
		if c.ShiftCap[t] <= 0 {
			return fmt.Errorf("%w: shift cap for %s must be > 0", ErrInvalidConfig, t)
		}
	}
	if !(c.TierGain[model.TierCore] > c.TierGain[model.TierGrowth] && c.TierGain[model.TierGrowth] > c.TierGain[model.TierFlavor]) {
		return fmt.Errorf("%w: tier gains must satisfy CORE > GROWTH > FLAVOR", ErrInvalidConfig)
	}
	if !(c.ShiftCap[model.TierCore] >= c.ShiftCap[model.TierGrowth] && c.ShiftCap[model.TierGrowth] >= c.ShiftCap[model.TierFlavor]) {
		return fmt.Errorf("%w: shift caps must satisfy CORE >= GROWTH >= FLAVOR", ErrInvalidConfig)
	}
	if c.LearnRate <= 0 || c.LearnRate >= 1 {
		return fmt.Errorf("%w: learn rate must be in (0,1)", ErrInvalidConfig)
	}
	if c.Epsilon <= 0 || c.Epsilon >= 0.5 {
		return fmt.Errorf("%w: epsilon must be in (0,0.5)", ErrInvalidConfig)
	}
	if c.ConfidenceScale <= 0 {
		return fmt.Errorf("%w: confidence scale must be > 0", ErrInvalidConfig)
	}
	if c.DefaultBaseScore < 1 || c.DefaultBaseScore > 100 {
		return fmt.Errorf("%w: default base score must be in [1,100]", ErrInvalidConfig)
	}
	return nil
}

// Gain returns the gain of tier t, treating unknown tiers as GROWTH.
func (c Config) Gain(t model.Tier) float64 {
	if g, ok := c.TierGain[t]; ok {
		return g
	}
	return c.TierGain[model.TierGrowth]
}

// Cap returns the shift cap of tier t, treating unknown tiers as GROWTH.
func (c Config) Cap(t model.Tier) float64 {
	if v, ok := c.ShiftCap[t]; ok {
		return v
	}
	return c.ShiftCap[model.TierGrowth]
}

// GlobalCap is the largest cap of any tier; no shift ever exceeds it.
func (c Config) GlobalCap() float64 {
	maxCap := 0.0
	for _, v := range c.ShiftCap {
		maxCap = max(maxCap, v)
	}
	return maxCap
}
