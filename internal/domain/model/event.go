// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"
)

// SpecVersion is the event schema version produced by current emitters.
const SpecVersion = "1.0"

// ContributionEvent is an immutable evidence record about one user.
// It is validated once and consumed at most once by the engine.
type ContributionEvent struct {
	SpecVersion string    `json:"specVersion" validate:"required,specversion"`
	EventID     string    `json:"eventId" validate:"required"`
	OccurredAt  time.Time `json:"occurredAt" validate:"required"`
	Source      Source    `json:"source"`
	Payload     Payload   `json:"payload"`
}

// Source identifies the emitter of an event.
type Source struct {
	Vertical string `json:"vertical" validate:"required"`
	ModuleID string `json:"moduleId" validate:"required"`
	Domain   string `json:"domain,omitempty"`
}

// Payload carries the evidence. Markers are mandatory, everything else optional.
type Payload struct {
	Markers []Marker           `json:"markers" validate:"required,min=1,dive"`
	Traits  []TraitObservation `json:"traits,omitempty" validate:"omitempty,dive"`
	Tags    []TagRef           `json:"tags,omitempty" validate:"omitempty,dive"`
	Unlocks []UnlockRef        `json:"unlocks,omitempty" validate:"omitempty,dive"`
	Fields  []FieldValue       `json:"fields,omitempty" validate:"omitempty,dive"`
	Astro   *AstroResult       `json:"astro,omitempty" validate:"omitempty"`
}

// Marker is a weighted piece of evidence referencing a registry marker.
type Marker struct {
	ID       string    `json:"id" validate:"required"`
	Weight   float64   `json:"weight" validate:"gt=0,lte=1"`
	Evidence *Evidence `json:"evidence,omitempty" validate:"omitempty"`
}

// Evidence qualifies a marker.
type Evidence struct {
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Confidence returns the marker confidence, defaulting to 1.
func (m Marker) Confidence() float64 {
	if m.Evidence == nil || m.Evidence.Confidence == nil {
		return 1
	}
	return *m.Evidence.Confidence
}

// TraitObservation is a legacy "observed score" for a trait.
type TraitObservation struct {
	ID         string   `json:"id" validate:"required"`
	Score      float64  `json:"score" validate:"gte=1,lte=100"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ConfidenceOrDefault returns the observation confidence, defaulting to 1.
func (o TraitObservation) ConfidenceOrDefault() float64 {
	if o.Confidence == nil {
		return 1
	}
	return *o.Confidence
}

// TagRef references a registry tag.
type TagRef struct {
	ID string `json:"id" validate:"required"`
}

// UnlockRef references a registry unlock.
type UnlockRef struct {
	ID string `json:"id" validate:"required"`
}

// FieldValue is a free-form profile field, merged last-write-wins.
type FieldValue struct {
	ID    string          `json:"id" validate:"required"`
	Value json.RawMessage `json:"value" validate:"required"`
}

// AstroResult is produced by an external astrology library and treated as opaque
// input. TraitAnchors maps trait ids to anchor scores in [1,100].
type AstroResult struct {
	SunSign      string             `json:"sunSign,omitempty"`
	MoonSign     string             `json:"moonSign,omitempty"`
	RisingSign   string             `json:"risingSign,omitempty"`
	Element      string             `json:"element,omitempty"`
	DayMaster    string             `json:"dayMaster,omitempty"`
	TraitAnchors map[string]float64 `json:"traitAnchors,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=1,lte=100"`
}
