// Package cosmetic merges tags, unlocks, fields and the astro anchor into a profile.
package cosmetic

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
)

// AnchorSourceAstro marks trait anchors seeded from an astro result.
const AnchorSourceAstro = "astro"

// Stats counts what a merge changed.
type Stats struct {
	TagsAdded     int
	UnlocksAdded  int
	FieldsSet     int
	AnchorsSeeded int
	// Seeded lists the trait ids whose base score came from the astro anchor.
	Seeded []string
}

// Merger applies cosmetic payloads.
type Merger struct {
	reg registry.Registry
}

// New returns a Merger consulting reg for anchorable traits.
func New(reg registry.Registry) *Merger {
	return &Merger{reg: reg}
}

// Merge folds the cosmetic parts of ev into state. On error state is untouched.
func (m *Merger) Merge(state *model.ProfileState, ev model.ContributionEvent, at time.Time) (Stats, error) {
	state.EnsureMaps()
	if ev.Payload.Astro != nil && state.Astro != nil {
		return Stats{}, ErrAstroAlreadySet
	}

	var st Stats
	for _, t := range ev.Payload.Tags {
		if grant(state.Tags, t.ID, ev.EventID, at) {
			st.TagsAdded++
		}
	}
	for _, u := range ev.Payload.Unlocks {
		if grant(state.Unlocks, u.ID, ev.EventID, at) {
			st.UnlocksAdded++
		}
	}
	for _, f := range ev.Payload.Fields {
		state.Fields[f.ID] = model.FieldState{
			ID:          f.ID,
			Value:       slices.Clone(f.Value),
			UpdatedAt:   at,
			SourceEvent: ev.EventID,
		}
		st.FieldsSet++
	}
	if ev.Payload.Astro != nil {
		ids, err := m.SetAstro(state, *ev.Payload.Astro, ev.Source.ModuleID, ev.EventID, at)
		if err != nil {
			return st, err
		}
		st.AnchorsSeeded = len(ids)
		st.Seeded = ids
	}
	if _, ok := state.Modules[ev.Source.ModuleID]; !ok && ev.Source.ModuleID != "" {
		state.Modules[ev.Source.ModuleID] = at
	}
	state.Avatar = Avatar(state, m.reg.TraitCount())
	return st, nil
}

func grant(set map[string]model.TagState, id, eventID string, at time.Time) bool {
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = model.TagState{ID: id, GrantedAt: at, SourceEvent: eventID}
	return true
}

// SetAstro records the astro anchor and seeds the base score of every anchorable
// trait listed in its trait anchors, returning the seeded ids in sorted order.
// It refuses to overwrite an existing anchor.
func (m *Merger) SetAstro(state *model.ProfileState, res model.AstroResult, moduleID, eventID string, at time.Time) ([]string, error) {
	if state.Astro != nil {
		return nil, ErrAstroAlreadySet
	}
	state.EnsureMaps()
	res.TraitAnchors = maps.Clone(res.TraitAnchors)
	state.Astro = &model.AstroAnchor{Result: res, ModuleID: moduleID, EventID: eventID, SetAt: at}

	var seeded []string
	for _, id := range slices.Sorted(maps.Keys(res.TraitAnchors)) {
		def, ok := m.reg.Trait(id)
		if !ok || !def.Anchorable {
			continue
		}
		score := res.TraitAnchors[id]
		if math.IsNaN(score) {
			continue
		}
		ts := state.Traits[id]
		if ts == nil {
			ts = &model.TraitState{TraitID: id}
			state.Traits[id] = ts
		}
		ts.BaseScore = max(1, min(100, score))
		ts.ShiftZ = 0
		ts.Anchored = true
		ts.AnchorSource = AnchorSourceAstro
		ts.UpdatedAt = at
		seeded = append(seeded, id)
	}
	return seeded, nil
}

var dimensionHue = map[model.Dimension]int{
	model.DimConnection: 330,
	model.DimStructure:  210,
	model.DimEmergence:  120,
	model.DimDepth:      270,
	model.DimShadow:     20,
}

// Avatar derives rendering hints from the psyche and trait coverage.
// knownTraits is the registry size and bounds the complexity ratio.
func Avatar(state *model.ProfileState, knownTraits int) model.AvatarParams {
	p := state.Psyche
	dominant := model.Dimensions[0]
	spread := 0.0
	for _, d := range model.Dimensions {
		v := p.Dim(d).Value
		if v > p.Dim(dominant).Value {
			dominant = d
		}
		spread += math.Abs(v - 0.5)
	}
	complexity := 0.0
	if knownTraits > 0 {
		complexity = min(1, float64(len(state.Traits))/float64(knownTraits))
	}
	return model.AvatarParams{
		Hue:        dimensionHue[dominant],
		Saturation: round3(0.35 + 0.65*min(1, spread/2.5)),
		Energy:     round3((p.Connection.Value + p.Emergence.Value) / 2),
		Complexity: round3(complexity),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
