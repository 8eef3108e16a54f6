// Package psyche blends marker evidence into the five slow-moving psyche dimensions.
package psyche

import (
	"math"
	"slices"
	"strings"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
)

// DefaultBlend scales module reliability into the blend coefficient.
const DefaultBlend = 0.5

// Rule maps a keyword onto a dimension. Rules are evaluated in order and the
// first match wins.
type Rule struct {
	Keyword   string
	Dimension model.Dimension
}

// DefaultCategoryRules match the registry category of a marker.
var DefaultCategoryRules = []Rule{
	{"eq", model.DimConnection},
	{"social", model.DimConnection},
	{"relationships", model.DimConnection},
	{"values", model.DimStructure},
	{"discipline", model.DimStructure},
	{"growth", model.DimEmergence},
	{"creativity", model.DimEmergence},
	{"meaning", model.DimDepth},
	{"astro", model.DimDepth},
	{"stress", model.DimShadow},
	{"shadow", model.DimShadow},
}

// DefaultKeywordRules match dot-separated segments of the marker id and are
// consulted only when no category rule matched.
var DefaultKeywordRules = []Rule{
	{"empathy", model.DimConnection},
	{"social", model.DimConnection},
	{"eq", model.DimConnection},
	{"order", model.DimStructure},
	{"values", model.DimStructure},
	{"novelty", model.DimEmergence},
	{"growth", model.DimEmergence},
	{"reflection", model.DimDepth},
	{"depth", model.DimDepth},
	{"shadow", model.DimShadow},
	{"stress", model.DimShadow},
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithBlend overrides DefaultBlend.
func WithBlend(b float64) Option {
	return func(a *Aggregator) {
		if b > 0 && b <= 1 {
			a.blend = b
		}
	}
}

// WithCategoryRules replaces the category rule table.
func WithCategoryRules(rules []Rule) Option {
	return func(a *Aggregator) { a.categoryRules = slices.Clone(rules) }
}

// WithKeywordRules replaces the keyword rule table.
func WithKeywordRules(rules []Rule) Option {
	return func(a *Aggregator) { a.keywordRules = slices.Clone(rules) }
}

// Aggregator folds events into a PsycheState.
type Aggregator struct {
	reg           registry.Registry
	blend         float64
	categoryRules []Rule
	keywordRules  []Rule
}

// New returns an Aggregator using the default rule tables.
func New(reg registry.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		reg:           reg,
		blend:         DefaultBlend,
		categoryRules: DefaultCategoryRules,
		keywordRules:  DefaultKeywordRules,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve returns the dimension of a marker: category rules first, then keywords.
func (a *Aggregator) Resolve(markerID string) (model.Dimension, bool) {
	if def, ok := a.reg.Marker(markerID); ok && def.Category != "" {
		for _, r := range a.categoryRules {
			if r.Keyword == def.Category {
				return r.Dimension, true
			}
		}
	}
	segments := strings.Split(markerID, ".")
	for _, r := range a.keywordRules {
		if slices.Contains(segments, r.Keyword) {
			return r.Dimension, true
		}
	}
	return "", false
}

// Apply blends the markers of ev into state.Psyche and recomputes the archetype
// mix. It returns the number of dimensions that moved.
func (a *Aggregator) Apply(state *model.ProfileState, ev model.ContributionEvent) int {
	sums := make(map[model.Dimension]float64)
	counts := make(map[model.Dimension]int)
	for _, m := range ev.Payload.Markers {
		dim, ok := a.Resolve(m.ID)
		if !ok {
			continue
		}
		sign := 1.0
		if def, ok := a.reg.Marker(m.ID); ok && def.Sign != 0 {
			sign = def.Sign
		}
		sums[dim] += (m.Weight*sign + 1) / 2
		counts[dim]++
	}

	alpha := a.reg.Module(ev.Source.ModuleID).Reliability * a.blend
	moved := 0
	for _, dim := range model.Dimensions {
		n := counts[dim]
		if n == 0 {
			continue
		}
		mean := sums[dim] / float64(n)
		ds := state.Psyche.Dim(dim)
		ds.Value = clamp01(ds.Value + alpha*(mean-ds.Value))
		ds.Updates++
		moved++
	}
	state.ArchetypeMix = ArchetypeMix(state.Psyche)
	return moved
}

// ArchetypeMix returns each dimension's share of the total psyche mass.
func ArchetypeMix(p model.PsycheState) map[model.Dimension]float64 {
	total := 0.0
	for _, d := range model.Dimensions {
		total += p.Dim(d).Value
	}
	mix := make(map[model.Dimension]float64, len(model.Dimensions))
	for _, d := range model.Dimensions {
		if total <= 0 {
			mix[d] = 1 / float64(len(model.Dimensions))
			continue
		}
		mix[d] = p.Dim(d).Value / total
	}
	return mix
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return max(0, min(1, v))
}
