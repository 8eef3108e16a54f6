package testevents

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
)

const (
	astroModule  = "onboarding.astro.v1"
	maxMarkers   = 3
	observeEvery = 5 // one legacy trait observation per this many events
)

var signs = []string{"aries", "taurus", "gemini", "cancer", "leo", "virgo", "libra", "scorpio", "sagittarius", "capricorn", "aquarius", "pisces"}

var moods = []string{"calm", "curious", "restless", "focused"}

// Batch is the ordered event stream of one user.
type Batch struct {
	UserID string
	Events []model.ContributionEvent
}

// Generator produces valid contribution events drawn from a registry catalog.
type Generator struct {
	rng       *rand.Rand
	markers   []string
	traits    []string
	anchors   []string
	tags      []string
	unlocks   []string
	modules   []string
	startedAt time.Time
}

// NewGenerator builds a generator over cat. Modules marked run-once are only
// used for the onboarding event.
func NewGenerator(cat registry.Catalog, seed uint64, start time.Time) (*Generator, error) {
	g := &Generator{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		startedAt: start.UTC(),
	}
	for _, m := range cat.Markers {
		g.markers = append(g.markers, m.ID)
	}
	for _, t := range cat.Traits {
		g.traits = append(g.traits, t.ID)
		if t.Anchorable {
			g.anchors = append(g.anchors, t.ID)
		}
	}
	for _, t := range cat.Tags {
		g.tags = append(g.tags, t.ID)
	}
	for _, u := range cat.Unlocks {
		g.unlocks = append(g.unlocks, u.ID)
	}
	for _, m := range cat.Modules {
		if !m.RunOnce {
			g.modules = append(g.modules, m.ID)
		}
	}
	if len(g.markers) == 0 || len(g.modules) == 0 {
		return nil, fmt.Errorf("catalog needs at least one marker and one repeatable module")
	}
	return g, nil
}

// Batches generates events for users users. Each stream opens with an astro
// onboarding event when the catalog has anchorable traits.
func (g *Generator) Batches(users, perUser int) []Batch {
	out := make([]Batch, users)
	for u := range users {
		userID := fmt.Sprintf("load-%05d", u)
		b := Batch{UserID: userID, Events: make([]model.ContributionEvent, 0, perUser)}
		for i := range perUser {
			at := g.startedAt.Add(time.Duration(u*perUser+i) * time.Second)
			if i == 0 && len(g.anchors) > 0 {
				b.Events = append(b.Events, g.astro(userID, at))
				continue
			}
			b.Events = append(b.Events, g.event(userID, i, at))
		}
		out[u] = b
	}
	return out
}

func (g *Generator) astro(userID string, at time.Time) model.ContributionEvent {
	sun := signs[g.rng.IntN(len(signs))]
	anchors := make(map[string]float64, 2)
	for range 2 {
		anchors[g.pick(g.anchors)] = float64(20 + g.rng.IntN(61))
	}
	return model.ContributionEvent{
		SpecVersion: model.SpecVersion,
		EventID:     userID + "-astro",
		OccurredAt:  at,
		Source:      model.Source{Vertical: "onboarding", ModuleID: astroModule},
		Payload: model.Payload{
			Markers: []model.Marker{{ID: g.pick(g.markers), Weight: 0.5}},
			Astro: &model.AstroResult{
				SunSign:      sun,
				MoonSign:     signs[g.rng.IntN(len(signs))],
				Element:      element(sun),
				TraitAnchors: anchors,
			},
		},
	}
}

func (g *Generator) event(userID string, seq int, at time.Time) model.ContributionEvent {
	module := g.pick(g.modules)
	ev := model.ContributionEvent{
		SpecVersion: model.SpecVersion,
		EventID:     fmt.Sprintf("%s-%04d", userID, seq),
		OccurredAt:  at,
		Source:      model.Source{Vertical: strings.SplitN(module, ".", 2)[0], ModuleID: module},
	}

	n := 1 + g.rng.IntN(maxMarkers)
	for range n {
		m := model.Marker{ID: g.pick(g.markers), Weight: g.weight()}
		if g.rng.IntN(2) == 0 {
			c := g.weight()
			m.Evidence = &model.Evidence{Confidence: &c}
		}
		ev.Payload.Markers = append(ev.Payload.Markers, m)
	}
	if seq%observeEvery == 0 && len(g.traits) > 0 {
		c := 0.5
		ev.Payload.Traits = append(ev.Payload.Traits, model.TraitObservation{
			ID: g.pick(g.traits), Score: float64(1 + g.rng.IntN(100)), Confidence: &c,
		})
	}
	if len(g.tags) > 0 && g.rng.IntN(4) == 0 {
		ev.Payload.Tags = append(ev.Payload.Tags, model.TagRef{ID: g.pick(g.tags)})
	}
	if len(g.unlocks) > 0 && g.rng.IntN(8) == 0 {
		ev.Payload.Unlocks = append(ev.Payload.Unlocks, model.UnlockRef{ID: g.pick(g.unlocks)})
	}
	if g.rng.IntN(3) == 0 {
		v, _ := json.Marshal(moods[g.rng.IntN(len(moods))])
		ev.Payload.Fields = append(ev.Payload.Fields, model.FieldValue{ID: "field.mood", Value: v})
	}
	return ev
}

// weight returns a value in (0,1] rounded to two decimals.
func (g *Generator) weight() float64 {
	return float64(1+g.rng.IntN(100)) / 100
}

func (g *Generator) pick(ids []string) string {
	return ids[g.rng.IntN(len(ids))]
}

func element(sign string) string {
	switch sign {
	case "aries", "leo", "sagittarius":
		return "fire"
	case "taurus", "virgo", "capricorn":
		return "earth"
	case "gemini", "libra", "aquarius":
		return "air"
	default:
		return "water"
	}
}
