// Package snapshot projects profile state into bounded, render-safe values.
package snapshot

import (
	"encoding/json"
	"maps"
	"math"
	"slices"

	"github.com/okian/psyche/internal/domain/convergence"
	"github.com/okian/psyche/internal/domain/model"
)

// Builder renders snapshots. It holds no state besides its configuration.
type Builder struct {
	cfg convergence.Config
}

// New returns a Builder that renders with cfg.
func New(cfg convergence.Config) Builder {
	return Builder{cfg: cfg}
}

// Build projects state. It is pure: identical state yields identical output.
// A nil state renders as an empty profile.
func (b Builder) Build(state *model.ProfileState) model.ProfileSnapshot {
	if state == nil {
		state = model.NewProfileState("")
	}

	snap := model.ProfileSnapshot{
		UserID:        state.UserID,
		Traits:        make([]model.TraitView, 0, len(state.Traits)),
		Tags:          slices.Sorted(maps.Keys(state.Tags)),
		Unlocks:       slices.Sorted(maps.Keys(state.Unlocks)),
		Fields:        make(map[string]json.RawMessage, len(state.Fields)),
		ArchetypeMix:  make([]model.ArchetypeShare, 0, len(model.Dimensions)),
		Avatar:        state.Avatar,
		Completion:    percent(state.Meta.Completion),
		EventCount:    state.Meta.EventCount,
		LastUpdatedAt: state.Meta.LastUpdatedAt,
		Psyche: model.PsycheView{
			Connection: unit(state.Psyche.Connection.Value),
			Structure:  unit(state.Psyche.Structure.Value),
			Emergence:  unit(state.Psyche.Emergence.Value),
			Depth:      unit(state.Psyche.Depth.Value),
			Shadow:     unit(state.Psyche.Shadow.Value),
		},
	}
	if snap.Tags == nil {
		snap.Tags = []string{}
	}
	if snap.Unlocks == nil {
		snap.Unlocks = []string{}
	}

	for _, id := range slices.Sorted(maps.Keys(state.Traits)) {
		ts := state.Traits[id]
		if ts == nil {
			continue
		}
		snap.Traits = append(snap.Traits, model.TraitView{
			ID:         id,
			Score:      convergence.Render(ts.BaseScore, ts.ShiftZ, b.cfg.Epsilon),
			Confidence: round3(convergence.Confidence(ts.ShiftStrength, b.cfg.ConfidenceScale)),
			Anchored:   ts.Anchored,
		})
	}

	for id, f := range state.Fields {
		snap.Fields[id] = slices.Clone(f.Value)
	}

	if state.Astro != nil {
		r := state.Astro.Result
		snap.Astro = &model.AstroView{
			SunSign:    r.SunSign,
			MoonSign:   r.MoonSign,
			RisingSign: r.RisingSign,
			Element:    r.Element,
			DayMaster:  r.DayMaster,
		}
	}

	for _, d := range model.Dimensions {
		snap.ArchetypeMix = append(snap.ArchetypeMix, model.ArchetypeShare{
			Dimension: d,
			Share:     unit(state.ArchetypeMix[d]),
		})
	}
	return snap
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return round3(max(0, min(1, v)))
}

func percent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(100 * max(0, min(1, v))))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
