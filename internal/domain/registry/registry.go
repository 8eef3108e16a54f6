// Package registry exposes the immutable catalog of marker, trait, tag, unlock
// and module identifiers that events are validated against.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/okian/psyche/internal/domain/model"
)

// MarkerDef describes a marker and the traits it moves.
type MarkerDef struct {
	ID       string      `koanf:"id" json:"id"`
	Category string      `koanf:"category" json:"category"`
	Sign     float64     `koanf:"sign" json:"sign"`
	Traits   []TraitLink `koanf:"traits" json:"traits,omitempty"`
}

// TraitLink maps a marker onto a trait with a signed direction.
type TraitLink struct {
	TraitID   string  `koanf:"trait" json:"trait"`
	Direction float64 `koanf:"direction" json:"direction"`
}

// TraitDef describes a trait. Anchorable traits may be seeded by astro anchors.
type TraitDef struct {
	ID          string  `koanf:"id" json:"id"`
	Name        string  `koanf:"name" json:"name"`
	Anchorable  bool    `koanf:"anchorable" json:"anchorable"`
	DefaultBase float64 `koanf:"default_base" json:"defaultBase,omitempty"`
}

// TagDef describes a cosmetic tag.
type TagDef struct {
	ID    string `koanf:"id" json:"id"`
	Label string `koanf:"label" json:"label"`
}

// UnlockDef describes an unlockable.
type UnlockDef struct {
	ID    string `koanf:"id" json:"id"`
	Label string `koanf:"label" json:"label"`
}

// ModuleDef classifies an event source.
type ModuleDef struct {
	ID          string     `koanf:"id" json:"id"`
	Tier        model.Tier `koanf:"tier" json:"tier"`
	Reliability float64    `koanf:"reliability" json:"reliability"`
	RunOnce     bool       `koanf:"run_once" json:"runOnce"`
}

// ModuleRule classifies modules without an explicit definition. Segment is
// compared against each dot-separated segment of the module id.
type ModuleRule struct {
	Segment     string     `koanf:"segment" json:"segment"`
	Prefix      string     `koanf:"prefix" json:"prefix,omitempty"`
	Tier        model.Tier `koanf:"tier" json:"tier"`
	Reliability float64    `koanf:"reliability" json:"reliability"`
	RunOnce     bool       `koanf:"run_once" json:"runOnce"`
}

func (r ModuleRule) matches(id string) bool {
	if r.Prefix != "" {
		return strings.HasPrefix(id, r.Prefix)
	}
	return slices.Contains(strings.Split(id, "."), r.Segment)
}

// Registry is the read-only lookup consulted by the engine. Implementations
// must be safe for concurrent use and answer in O(1).
type Registry interface {
	Marker(id string) (MarkerDef, bool)
	Trait(id string) (TraitDef, bool)
	Tag(id string) (TagDef, bool)
	Unlock(id string) (UnlockDef, bool)
	// Module always resolves: explicit definitions first, then rules, then the default.
	Module(id string) ModuleDef
	// TraitCount is the number of known traits.
	TraitCount() int
}

// Catalog is the serialisable form of a registry.
type Catalog struct {
	Markers     []MarkerDef  `koanf:"markers" json:"markers"`
	Traits      []TraitDef   `koanf:"traits" json:"traits"`
	Tags        []TagDef     `koanf:"tags" json:"tags"`
	Unlocks     []UnlockDef  `koanf:"unlocks" json:"unlocks"`
	Modules     []ModuleDef  `koanf:"modules" json:"modules"`
	ModuleRules []ModuleRule `koanf:"module_rules" json:"moduleRules"`
}

// DefaultModule is returned when neither a definition nor a rule matches.
var DefaultModule = ModuleDef{Tier: model.TierGrowth, Reliability: 0.5}

// Static is an in-memory Registry built once from a Catalog.
type Static struct {
	markers map[string]MarkerDef
	traits  map[string]TraitDef
	tags    map[string]TagDef
	unlocks map[string]UnlockDef
	modules map[string]ModuleDef
	rules   []ModuleRule
}

var _ Registry = (*Static)(nil)

// NewStatic validates cat and builds a Static registry from a private copy of it.
func NewStatic(cat Catalog) (*Static, error) {
	s := &Static{
		markers: make(map[string]MarkerDef, len(cat.Markers)),
		traits:  make(map[string]TraitDef, len(cat.Traits)),
		tags:    make(map[string]TagDef, len(cat.Tags)),
		unlocks: make(map[string]UnlockDef, len(cat.Unlocks)),
		modules: make(map[string]ModuleDef, len(cat.Modules)),
		rules:   slices.Clone(cat.ModuleRules),
	}
	for _, t := range cat.Traits {
		if err := checkID("trait", t.ID, s.traits); err != nil {
			return nil, err
		}
		if t.DefaultBase != 0 && (t.DefaultBase < 1 || t.DefaultBase > 100) {
			return nil, fmt.Errorf("%w: trait %q default base %v outside [1,100]", ErrInvalidCatalog, t.ID, t.DefaultBase)
		}
		s.traits[t.ID] = t
	}
	for _, m := range cat.Markers {
		if err := checkID("marker", m.ID, s.markers); err != nil {
			return nil, err
		}
		switch {
		case m.Sign == 0:
			m.Sign = 1
		case m.Sign > 0:
			m.Sign = 1
		default:
			m.Sign = -1
		}
		m.Traits = slices.Clone(m.Traits)
		for i, l := range m.Traits {
			if _, ok := s.traits[l.TraitID]; !ok {
				return nil, fmt.Errorf("%w: marker %q links unknown trait %q", ErrInvalidCatalog, m.ID, l.TraitID)
			}
			if l.Direction == 0 {
				m.Traits[i].Direction = 1
			}
		}
		s.markers[m.ID] = m
	}
	for _, t := range cat.Tags {
		if err := checkID("tag", t.ID, s.tags); err != nil {
			return nil, err
		}
		s.tags[t.ID] = t
	}
	for _, u := range cat.Unlocks {
		if err := checkID("unlock", u.ID, s.unlocks); err != nil {
			return nil, err
		}
		s.unlocks[u.ID] = u
	}
	for _, m := range cat.Modules {
		if err := checkID("module", m.ID, s.modules); err != nil {
			return nil, err
		}
		if !m.Tier.Valid() {
			return nil, fmt.Errorf("%w: module %q has tier %q", ErrInvalidCatalog, m.ID, m.Tier)
		}
		s.modules[m.ID] = m
	}
	for _, r := range s.rules {
		if !r.Tier.Valid() || (r.Segment == "" && r.Prefix == "") {
			return nil, fmt.Errorf("%w: module rule %+v", ErrInvalidCatalog, r)
		}
	}
	return s, nil
}

func checkID[V any](kind, id string, seen map[string]V) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalidCatalog, kind)
	}
	if _, dup := seen[id]; dup {
		return fmt.Errorf("%w: duplicate %s id %q", ErrInvalidCatalog, kind, id)
	}
	return nil
}

// Marker looks up a marker definition.
func (s *Static) Marker(id string) (MarkerDef, bool) {
	m, ok := s.markers[id]
	return m, ok
}

// Trait looks up a trait definition.
func (s *Static) Trait(id string) (TraitDef, bool) {
	t, ok := s.traits[id]
	return t, ok
}

// Tag looks up a tag definition.
func (s *Static) Tag(id string) (TagDef, bool) {
	t, ok := s.tags[id]
	return t, ok
}

// Unlock looks up an unlock definition.
func (s *Static) Unlock(id string) (UnlockDef, bool) {
	u, ok := s.unlocks[id]
	return u, ok
}

// Module resolves the classification of a module id.
func (s *Static) Module(id string) ModuleDef {
	if m, ok := s.modules[id]; ok {
		return m
	}
	for _, r := range s.rules {
		if r.matches(id) {
			return ModuleDef{ID: id, Tier: r.Tier, Reliability: r.Reliability, RunOnce: r.RunOnce}
		}
	}
	d := DefaultModule
	d.ID = id
	return d
}

// TraitCount returns the number of known traits.
func (s *Static) TraitCount() int {
	return len(s.traits)
}

// Catalog returns the registry contents with every list sorted by id.
func (s *Static) Catalog() Catalog {
	cat := Catalog{
		Markers:     make([]MarkerDef, 0, len(s.markers)),
		Traits:      make([]TraitDef, 0, len(s.traits)),
		Tags:        make([]TagDef, 0, len(s.tags)),
		Unlocks:     make([]UnlockDef, 0, len(s.unlocks)),
		Modules:     make([]ModuleDef, 0, len(s.modules)),
		ModuleRules: slices.Clone(s.rules),
	}
	for _, id := range slices.Sorted(maps.Keys(s.markers)) {
		m := s.markers[id]
		m.Traits = slices.Clone(m.Traits)
		cat.Markers = append(cat.Markers, m)
	}
	for _, id := range slices.Sorted(maps.Keys(s.traits)) {
		cat.Traits = append(cat.Traits, s.traits[id])
	}
	for _, id := range slices.Sorted(maps.Keys(s.tags)) {
		cat.Tags = append(cat.Tags, s.tags[id])
	}
	for _, id := range slices.Sorted(maps.Keys(s.unlocks)) {
		cat.Unlocks = append(cat.Unlocks, s.unlocks[id])
	}
	for _, id := range slices.Sorted(maps.Keys(s.modules)) {
		cat.Modules = append(cat.Modules, s.modules[id])
	}
	return cat
}
