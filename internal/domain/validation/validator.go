// Package validation checks contribution events before they reach the engine.
//
// Three independent checks run on every event: shape (struct tags), identifier
// resolution against the registry, and module rules against the current profile.
package validation

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
)

// Module rule names.
const (
	RuleRunOnce         = "runOnce"
	RuleAstroAlreadySet = "astroAlreadySet"
	RuleDuplicateEvent  = "duplicateEvent"
)

// IDKind names the registry table an identifier is resolved against.
type IDKind string

// Identifier kinds.
const (
	KindMarker IDKind = "marker"
	KindTrait  IDKind = "trait"
	KindTag    IDKind = "tag"
	KindUnlock IDKind = "unlock"
)

// ShapeError reports a malformed field.
type ShapeError struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// IDError reports one identifier that does not resolve.
type IDError struct {
	Kind IDKind `json:"kind"`
	ID   string `json:"id"`
}

// ModuleError reports a violated module rule.
type ModuleError struct {
	ModuleID string `json:"moduleId"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
}

// Result is the structured outcome of validation.
type Result struct {
	Valid        bool          `json:"valid"`
	ShapeErrors  []ShapeError  `json:"shapeErrors"`
	IDErrors     []IDError     `json:"idErrors"`
	ModuleErrors []ModuleError `json:"moduleErrors"`
}

// Reasons flattens the result into one human readable line per error.
func (r Result) Reasons() []string {
	out := make([]string, 0, len(r.ShapeErrors)+len(r.IDErrors)+len(r.ModuleErrors))
	for _, e := range r.ShapeErrors {
		out = append(out, fmt.Sprintf("shape: %s: %s", e.Path, e.Rule))
	}
	for _, e := range r.IDErrors {
		out = append(out, fmt.Sprintf("unknown %s: %s", e.Kind, e.ID))
	}
	for _, e := range r.ModuleErrors {
		out = append(out, fmt.Sprintf("module %s: %s", e.ModuleID, e.Rule))
	}
	return out
}

// shapeValidate is shared; validator.Validate caches struct metadata and is safe
// for concurrent use.
var shapeValidate = newShapeValidator()

func newShapeValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("specversion", validateSpecVersion)
	return v
}

// validateSpecVersion accepts any version sharing the major of model.SpecVersion.
func validateSpecVersion(fl validator.FieldLevel) bool {
	major, _, _ := strings.Cut(model.SpecVersion, ".")
	got, _, _ := strings.Cut(fl.Field().String(), ".")
	return got == major
}

// Validator checks events against a registry.
type Validator struct {
	reg registry.Registry
}

// New returns a Validator consulting reg.
func New(reg registry.Registry) *Validator {
	return &Validator{reg: reg}
}

// Validate runs every check. state may be nil for a profile that does not exist yet.
func (v *Validator) Validate(state *model.ProfileState, ev model.ContributionEvent) Result {
	res := Result{
		ShapeErrors:  Shape(ev),
		IDErrors:     v.unknownIDs(ev),
		ModuleErrors: v.moduleRules(state, ev),
	}
	res.Valid = len(res.ShapeErrors) == 0 && len(res.IDErrors) == 0 && len(res.ModuleErrors) == 0
	return res
}

// Shape runs the struct-tag checks alone.
func Shape(ev model.ContributionEvent) []ShapeError {
	err := shapeValidate.Struct(ev)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ShapeError{{Path: "", Rule: "invalid", Message: err.Error()}}
	}
	out := make([]ShapeError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ShapeError{
			Path:    trimRoot(fe.Namespace()),
			Rule:    fe.Tag(),
			Message: shapeMessage(fe),
		})
	}
	return out
}

func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func shapeMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must contain at least " + fe.Param() + " entries"
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	case "specversion":
		return "unsupported spec version " + fmt.Sprint(fe.Value())
	default:
		return "failed " + fe.Tag()
	}
}

func (v *Validator) unknownIDs(ev model.ContributionEvent) []IDError {
	var out []IDError
	seen := make(map[IDError]struct{})
	report := func(kind IDKind, id string, known bool) {
		if id == "" || known {
			return
		}
		e := IDError{Kind: kind, ID: id}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	p := ev.Payload
	for _, m := range p.Markers {
		_, ok := v.reg.Marker(m.ID)
		report(KindMarker, m.ID, ok)
	}
	for _, t := range p.Traits {
		_, ok := v.reg.Trait(t.ID)
		report(KindTrait, t.ID, ok)
	}
	if p.Astro != nil {
		for _, id := range slices.Sorted(maps.Keys(p.Astro.TraitAnchors)) {
			_, ok := v.reg.Trait(id)
			report(KindTrait, id, ok)
		}
	}
	for _, t := range p.Tags {
		_, ok := v.reg.Tag(t.ID)
		report(KindTag, t.ID, ok)
	}
	for _, u := range p.Unlocks {
		_, ok := v.reg.Unlock(u.ID)
		report(KindUnlock, u.ID, ok)
	}
	return out
}

func (v *Validator) moduleRules(state *model.ProfileState, ev model.ContributionEvent) []ModuleError {
	if state == nil {
		return nil
	}
	var out []ModuleError
	moduleID := ev.Source.ModuleID
	mod := v.reg.Module(moduleID)

	_, applied := state.Modules[moduleID]
	switch {
	case mod.RunOnce && applied:
		out = append(out, ModuleError{ModuleID: moduleID, Rule: RuleRunOnce, Message: "module already applied to this profile"})
	case mod.RunOnce && ev.Payload.Astro != nil && state.Astro != nil:
		out = append(out, ModuleError{ModuleID: moduleID, Rule: RuleRunOnce, Message: "astro anchor already set by " + state.Astro.ModuleID})
	case ev.Payload.Astro != nil && state.Astro != nil:
		out = append(out, ModuleError{ModuleID: moduleID, Rule: RuleAstroAlreadySet, Message: "astro anchor already set by " + state.Astro.ModuleID})
	}

	if ev.EventID != "" && state.HasEvent(ev.EventID) {
		out = append(out, ModuleError{ModuleID: moduleID, Rule: RuleDuplicateEvent, Message: "event " + ev.EventID + " already applied"})
	}
	return out
}
