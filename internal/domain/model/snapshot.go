package model

import (
	"encoding/json"
	"time"
)

// ProfileSnapshot is the read-only, UI-safe projection of a ProfileState.
// It is always regenerable and never persisted.
type ProfileSnapshot struct {
	UserID        string                     `json:"userId,omitempty"`
	Traits        []TraitView                `json:"traits"`
	Psyche        PsycheView                 `json:"psyche"`
	Tags          []string                   `json:"tags"`
	Unlocks       []string                   `json:"unlocks"`
	Fields        map[string]json.RawMessage `json:"fields"`
	Astro         *AstroView                 `json:"astro,omitempty"`
	ArchetypeMix  []ArchetypeShare           `json:"archetypeMix"`
	Avatar        AvatarParams               `json:"avatar"`
	Completion    int                        `json:"completion"`
	EventCount    int                        `json:"eventCount"`
	LastUpdatedAt time.Time                  `json:"lastUpdatedAt"`
}

// TraitView is one rendered trait.
type TraitView struct {
	ID         string  `json:"id"`
	Score      int     `json:"score"`
	Confidence float64 `json:"confidence"`
	Anchored   bool    `json:"anchored,omitempty"`
}

// PsycheView exposes the five axes as plain values in [0,1].
type PsycheView struct {
	Connection float64 `json:"connection"`
	Structure  float64 `json:"structure"`
	Emergence  float64 `json:"emergence"`
	Depth      float64 `json:"depth"`
	Shadow     float64 `json:"shadow"`
}

// AstroView is the renderable subset of the astro anchor.
type AstroView struct {
	SunSign    string `json:"sunSign,omitempty"`
	MoonSign   string `json:"moonSign,omitempty"`
	RisingSign string `json:"risingSign,omitempty"`
	Element    string `json:"element,omitempty"`
	DayMaster  string `json:"dayMaster,omitempty"`
}

// ArchetypeShare is one entry of the archetype mix, ordered by dimension.
type ArchetypeShare struct {
	Dimension Dimension `json:"dimension"`
	Share     float64   `json:"share"`
}
