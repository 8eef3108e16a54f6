package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Tier is the reliability class of the module that emitted an event.
type Tier string

// Reliability tiers, strongest first.
const (
	TierCore   Tier = "CORE"
	TierGrowth Tier = "GROWTH"
	TierFlavor Tier = "FLAVOR"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierCore || t == TierGrowth || t == TierFlavor
}

// Dimension names one of the five psyche axes.
type Dimension string

// Psyche dimensions in their canonical order.
const (
	DimConnection Dimension = "connection"
	DimStructure  Dimension = "structure"
	DimEmergence  Dimension = "emergence"
	DimDepth      Dimension = "depth"
	DimShadow     Dimension = "shadow"
)

// Dimensions lists the psyche axes in canonical order.
var Dimensions = []Dimension{DimConnection, DimStructure, DimEmergence, DimDepth, DimShadow}

// DimensionState is one slow-moving psyche axis.
type DimensionState struct {
	Value   float64 `json:"value"`
	Updates int     `json:"updates"`
}

// PsycheState holds the five psyche axes.
type PsycheState struct {
	Connection DimensionState `json:"connection"`
	Structure  DimensionState `json:"structure"`
	Emergence  DimensionState `json:"emergence"`
	Depth      DimensionState `json:"depth"`
	Shadow     DimensionState `json:"shadow"`
}

// NeutralPsyche returns every axis at its midpoint.
func NeutralPsyche() PsycheState {
	mid := DimensionState{Value: 0.5}
	return PsycheState{Connection: mid, Structure: mid, Emergence: mid, Depth: mid, Shadow: mid}
}

// Dim returns a pointer to the axis named d, or nil.
func (p *PsycheState) Dim(d Dimension) *DimensionState {
	switch d {
	case DimConnection:
		return &p.Connection
	case DimStructure:
		return &p.Structure
	case DimEmergence:
		return &p.Emergence
	case DimDepth:
		return &p.Depth
	case DimShadow:
		return &p.Shadow
	}
	return nil
}

// TraitState is the two-layer numeric state of one trait: a stable anchor and a
// bounded drift held in logit space.
type TraitState struct {
	TraitID       string    `json:"traitId"`
	BaseScore     float64   `json:"baseScore"`
	ShiftZ        float64   `json:"shiftZ"`
	ShiftStrength float64   `json:"shiftStrength"`
	Anchored      bool      `json:"anchored,omitempty"`
	AnchorSource  string    `json:"anchorSource,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TagState records when a tag or unlock was first granted.
type TagState struct {
	ID          string    `json:"id"`
	GrantedAt   time.Time `json:"grantedAt"`
	SourceEvent string    `json:"sourceEvent,omitempty"`
}

// FieldState is the latest value of a profile field.
type FieldState struct {
	ID          string          `json:"id"`
	Value       json.RawMessage `json:"value"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	SourceEvent string          `json:"sourceEvent,omitempty"`
}

// AstroAnchor is the set-once astrology record.
type AstroAnchor struct {
	Result   AstroResult `json:"result"`
	ModuleID string      `json:"moduleId"`
	EventID  string      `json:"eventId"`
	SetAt    time.Time   `json:"setAt"`
}

// AvatarParams are derived rendering hints, recomputed on every update.
type AvatarParams struct {
	Hue        int     `json:"hue"`
	Saturation float64 `json:"saturation"`
	Energy     float64 `json:"energy"`
	Complexity float64 `json:"complexity"`
}

// Meta carries bookkeeping counters.
type Meta struct {
	EventCount     int       `json:"eventCount"`
	LastUpdatedAt  time.Time `json:"lastUpdatedAt"`
	Completion     float64   `json:"completion"`
	RecentEventIDs []string  `json:"recentEventIds,omitempty"`
}

// ProfileState is the durable unit for one user. It is owned by the engine;
// callers read snapshots.
type ProfileState struct {
	UserID       string                 `json:"userId,omitempty"`
	Psyche       PsycheState            `json:"psyche"`
	Traits       map[string]*TraitState `json:"traits"`
	Tags         map[string]TagState    `json:"tags"`
	Unlocks      map[string]TagState    `json:"unlocks"`
	Fields       map[string]FieldState  `json:"fields"`
	Astro        *AstroAnchor           `json:"astro,omitempty"`
	ArchetypeMix map[Dimension]float64  `json:"archetypeMix"`
	Avatar       AvatarParams           `json:"avatar"`
	Modules      map[string]time.Time   `json:"modules"`
	Meta         Meta                   `json:"meta"`
}

// NewProfileState returns an empty profile with neutral psyche.
func NewProfileState(userID string) *ProfileState {
	s := &ProfileState{
		UserID: userID,
		Psyche: NeutralPsyche(),
	}
	s.EnsureMaps()
	return s
}

// EnsureMaps allocates nil maps, which can appear after decoding older files.
func (s *ProfileState) EnsureMaps() {
	if s.Traits == nil {
		s.Traits = make(map[string]*TraitState)
	}
	if s.Tags == nil {
		s.Tags = make(map[string]TagState)
	}
	if s.Unlocks == nil {
		s.Unlocks = make(map[string]TagState)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]FieldState)
	}
	if s.ArchetypeMix == nil {
		s.ArchetypeMix = make(map[Dimension]float64)
	}
	if s.Modules == nil {
		s.Modules = make(map[string]time.Time)
	}
}

// HasEvent reports whether eventID is in the recent-event window.
func (s *ProfileState) HasEvent(eventID string) bool {
	return slices.Contains(s.Meta.RecentEventIDs, eventID)
}

// Clone returns a deep copy of s. The engine only ever mutates clones.
func (s *ProfileState) Clone() *ProfileState {
	if s == nil {
		return nil
	}
	c := *s
	c.Traits = make(map[string]*TraitState, len(s.Traits))
	for k, v := range s.Traits {
		if v == nil {
			continue
		}
		t := *v
		c.Traits[k] = &t
	}
	c.Tags = cloneMap(s.Tags)
	c.Unlocks = cloneMap(s.Unlocks)
	c.Fields = make(map[string]FieldState, len(s.Fields))
	for k, v := range s.Fields {
		v.Value = slices.Clone(v.Value)
		c.Fields[k] = v
	}
	if s.Astro != nil {
		a := *s.Astro
		a.Result.TraitAnchors = cloneMap(s.Astro.Result.TraitAnchors)
		c.Astro = &a
	}
	c.ArchetypeMix = cloneMap(s.ArchetypeMix)
	c.Modules = cloneMap(s.Modules)
	c.Meta.RecentEventIDs = slices.Clone(s.Meta.RecentEventIDs)
	c.EnsureMaps()
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
