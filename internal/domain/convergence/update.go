package convergence

import (
	"math"
	"slices"
	"time"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
)

// ApplyEvidence adds deltaZ to the shift of ts and clamps the result.
//
// The clamp limit is cap[tier], widened to the magnitude of the previous shift so
// evidence from a weak tier never drags down a shift earned by a stronger one.
// The limit never exceeds the global cap. Non-finite deltas leave ts unchanged.
func ApplyEvidence(ts model.TraitState, deltaZ float64, tier model.Tier, cfg Config, at time.Time) model.TraitState {
	if !finite(deltaZ) {
		return ts
	}
	prev := sanitizeShift(ts.ShiftZ, cfg)
	limit := math.Min(math.Max(cfg.Cap(tier), math.Abs(prev)), cfg.GlobalCap())
	ts.ShiftZ = clamp(prev+deltaZ, -limit, limit)
	ts.UpdatedAt = at
	return ts
}

// sanitizeShift repairs persisted shifts that are NaN or outside the global band.
func sanitizeShift(v float64, cfg Config) float64 {
	if math.IsNaN(v) {
		return 0
	}
	g := cfg.GlobalCap()
	return clamp(v, -g, g)
}

// MarkerContribution is the accumulated marker evidence of one event for one trait.
type MarkerContribution struct {
	DeltaZ   float64
	Strength float64
}

// MarkerDeltas accumulates marker evidence per trait. Markers unknown to reg or
// without trait links contribute nothing.
func MarkerDeltas(markers []model.Marker, reg registry.Registry, tier model.Tier, cfg Config) map[string]MarkerContribution {
	gain := cfg.Gain(tier)
	out := make(map[string]MarkerContribution)
	for _, m := range markers {
		def, ok := reg.Marker(m.ID)
		if !ok {
			continue
		}
		conf := m.Confidence()
		for _, link := range def.Traits {
			c := out[link.TraitID]
			c.DeltaZ += m.Weight * def.Sign * link.Direction * gain * conf
			c.Strength += m.Weight * conf * gain * math.Abs(link.Direction)
			out[link.TraitID] = c
		}
	}
	return out
}

// Nudge returns the shift delta produced by one observed score.
//
// The target shift is the logit distance between observation and anchor, held
// inside the tier band. Repeating the same observation covers a fixed fraction
// of the remaining gap each time, so successive deltas shrink geometrically.
func Nudge(ts model.TraitState, observed, confidence float64, tier model.Tier, cfg Config) float64 {
	if !finite(observed) || !finite(confidence) {
		return 0
	}
	shift := sanitizeShift(ts.ShiftZ, cfg)
	desired := Logit(ScoreToP(observed, cfg.Epsilon)) - Logit(ScoreToP(ts.BaseScore, cfg.Epsilon))
	limit := cfg.Cap(tier)
	if desired*shift > 0 {
		limit = math.Min(math.Max(limit, math.Abs(shift)), cfg.GlobalCap())
	}
	target := clamp(desired, -limit, limit)
	return (target - shift) * cfg.LearnRate * clamp(confidence, 0, 1)
}

// Stats counts the trait updates made by Update.
type Stats struct {
	MarkerUpdates      int
	ObservationUpdates int
	CreatedTraits      int
}

// Update applies marker evidence and then observation nudges of ev to state.
// state is mutated in place; callers pass a clone.
func Update(state *model.ProfileState, ev model.ContributionEvent, tier model.Tier, reg registry.Registry, cfg Config, at time.Time) Stats {
	state.EnsureMaps()
	var st Stats

	deltas := MarkerDeltas(ev.Payload.Markers, reg, tier, cfg)
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		c := deltas[id]
		ts, created := traitFor(state, id, defaultBase(reg, id, cfg), at)
		if created {
			st.CreatedTraits++
		}
		next := ApplyEvidence(*ts, c.DeltaZ, tier, cfg, at)
		next.ShiftStrength += c.Strength
		*ts = next
		st.MarkerUpdates++
	}

	gain := cfg.Gain(tier)
	for _, obs := range ev.Payload.Traits {
		ts, created := traitFor(state, obs.ID, obs.Score, at)
		if created {
			st.CreatedTraits++
		}
		conf := obs.ConfidenceOrDefault()
		next := ApplyEvidence(*ts, Nudge(*ts, obs.Score, conf, tier, cfg), tier, cfg, at)
		next.ShiftStrength += conf * gain
		*ts = next
		st.ObservationUpdates++
	}
	return st
}

func traitFor(state *model.ProfileState, id string, base float64, at time.Time) (*model.TraitState, bool) {
	if ts, ok := state.Traits[id]; ok && ts != nil {
		return ts, false
	}
	ts := &model.TraitState{
		TraitID:   id,
		BaseScore: clamp(base, minScore, maxScore),
		UpdatedAt: at,
	}
	state.Traits[id] = ts
	return ts, true
}

func defaultBase(reg registry.Registry, id string, cfg Config) float64 {
	if def, ok := reg.Trait(id); ok && def.DefaultBase > 0 {
		return def.DefaultBase
	}
	return cfg.DefaultBaseScore
}
