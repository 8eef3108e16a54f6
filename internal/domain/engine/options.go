package engine

import (
	"time"

	"github.com/okian/psyche/internal/domain/convergence"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConvergence replaces the convergence tuning.
func WithConvergence(cfg convergence.Config) Option {
	return func(e *Engine) { e.conv = cfg }
}

// WithPsycheBlend sets the factor applied to module reliability when blending psyche.
func WithPsycheBlend(b float64) Option {
	return func(e *Engine) { e.psycheBlend = b }
}

// WithRecentEventLimit bounds the per-profile window of applied event ids used
// for duplicate detection. Zero disables the window.
func WithRecentEventLimit(n int) Option {
	return func(e *Engine) { e.recentLimit = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
