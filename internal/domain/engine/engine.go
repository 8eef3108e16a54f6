// Package engine runs the ingestion pipeline for one profile:
// validate, aggregate psyche, converge traits, merge cosmetics, snapshot.
//
// The engine is synchronous and performs no I/O. It never mutates the state it is
// given; accepted events are applied to a deep clone.
package engine

import (
	"fmt"
	"time"

	"github.com/okian/psyche/internal/domain/convergence"
	"github.com/okian/psyche/internal/domain/cosmetic"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/psyche"
	"github.com/okian/psyche/internal/domain/registry"
	"github.com/okian/psyche/internal/domain/snapshot"
	"github.com/okian/psyche/internal/domain/validation"
)

// Stats describes the work done for one accepted event.
type Stats struct {
	Tier        model.Tier
	Traits      convergence.Stats
	PsycheMoved int
	Cosmetic    cosmetic.Stats
}

// Result is the outcome of Ingest. State is always non-nil: the new state when
// accepted, the untouched input (or a fresh profile) when rejected.
type Result struct {
	Accepted   bool
	State      *model.ProfileState
	Snapshot   model.ProfileSnapshot
	Validation validation.Result
	Stats      Stats
}

// Engine wires the pipeline stages around one registry.
type Engine struct {
	reg         registry.Registry
	conv        convergence.Config
	psycheBlend float64
	recentLimit int
	now         func() time.Time

	validator  *validation.Validator
	aggregator *psyche.Aggregator
	merger     *cosmetic.Merger
	builder    snapshot.Builder
}

// New builds an Engine over reg.
func New(reg registry.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidConfig)
	}
	e := &Engine{
		reg:         reg,
		conv:        convergence.DefaultConfig(),
		psycheBlend: psyche.DefaultBlend,
		recentLimit: convergence.DefaultRecentEventLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.conv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if e.psycheBlend <= 0 || e.psycheBlend > 1 {
		return nil, fmt.Errorf("%w: psyche blend must be in (0,1]", ErrInvalidConfig)
	}
	if e.recentLimit < 0 {
		return nil, fmt.Errorf("%w: recent event limit must be >= 0", ErrInvalidConfig)
	}

	e.validator = validation.New(reg)
	e.aggregator = psyche.New(reg, psyche.WithBlend(e.psycheBlend))
	e.merger = cosmetic.New(reg)
	e.builder = snapshot.New(e.conv)
	return e, nil
}

// Registry returns the registry the engine validates against.
func (e *Engine) Registry() registry.Registry { return e.reg }

// Validate runs the validator alone.
func (e *Engine) Validate(state *model.ProfileState, ev model.ContributionEvent) validation.Result {
	return e.validator.Validate(state, ev)
}

// Snapshot renders state.
func (e *Engine) Snapshot(state *model.ProfileState) model.ProfileSnapshot {
	return e.builder.Build(state)
}

// Ingest validates ev and applies it to a clone of state. A nil state starts a
// fresh profile. Rejected events leave state untouched and report why.
func (e *Engine) Ingest(state *model.ProfileState, ev model.ContributionEvent) Result {
	if state == nil {
		state = model.NewProfileState("")
	}

	res := e.validator.Validate(state, ev)
	if !res.Valid {
		return e.reject(state, res)
	}

	at := e.now().UTC()
	next := state.Clone()
	mod := e.reg.Module(ev.Source.ModuleID)
	stats := Stats{Tier: mod.Tier}

	stats.PsycheMoved = e.aggregator.Apply(next, ev)
	stats.Traits = convergence.Update(next, ev, mod.Tier, e.reg, e.conv, at)
	cs, err := e.merger.Merge(next, ev, at)
	if err != nil {
		res.Valid = false
		res.ModuleErrors = append(res.ModuleErrors, validation.ModuleError{
			ModuleID: ev.Source.ModuleID,
			Rule:     validation.RuleAstroAlreadySet,
			Message:  err.Error(),
		})
		return e.reject(state, res)
	}
	stats.Cosmetic = cs
	// Seeding resets the shift of an anchored trait, so the strength this event
	// added to it goes too.
	for _, id := range cs.Seeded {
		prev := 0.0
		if ts := state.Traits[id]; ts != nil {
			prev = ts.ShiftStrength
		}
		next.Traits[id].ShiftStrength = prev
	}

	e.touchMeta(next, ev.EventID, at)
	return Result{
		Accepted:   true,
		State:      next,
		Snapshot:   e.builder.Build(next),
		Validation: res,
		Stats:      stats,
	}
}

// IngestStrict is Ingest for trusted callers: a rejection is returned as a
// *ValidationError wrapping ErrInvalidEvent.
func (e *Engine) IngestStrict(state *model.ProfileState, ev model.ContributionEvent) (Result, error) {
	res := e.Ingest(state, ev)
	if !res.Accepted {
		return res, &ValidationError{Result: res.Validation}
	}
	return res, nil
}

func (e *Engine) reject(state *model.ProfileState, res validation.Result) Result {
	return Result{
		State:      state,
		Snapshot:   e.builder.Build(state),
		Validation: res,
	}
}

func (e *Engine) touchMeta(state *model.ProfileState, eventID string, at time.Time) {
	m := &state.Meta
	m.EventCount++
	m.LastUpdatedAt = at
	if e.recentLimit > 0 && eventID != "" {
		m.RecentEventIDs = append(m.RecentEventIDs, eventID)
		if over := len(m.RecentEventIDs) - e.recentLimit; over > 0 {
			m.RecentEventIDs = append([]string(nil), m.RecentEventIDs[over:]...)
		}
	}
	m.Completion = completion(state, e.reg)
}

// completion is the share of known traits with evidence, with the astro anchor
// counted as one more item.
func completion(state *model.ProfileState, reg registry.Registry) float64 {
	total := reg.TraitCount() + 1
	done := 0
	for id := range state.Traits {
		if _, ok := reg.Trait(id); ok {
			done++
		}
	}
	if state.Astro != nil {
		done++
	}
	return min(1, float64(done)/float64(total))
}
