package cosmetic_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/psyche/internal/domain/cosmetic"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	t0 = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func cosmeticEvent(id string, p model.Payload) model.ContributionEvent {
	return model.ContributionEvent{
		EventID: id,
		Source:  model.Source{Vertical: "quiz", ModuleID: "quiz.test.v1"},
		Payload: p,
	}
}

func TestMergeTagsAndFields(t *testing.T) {
	Convey("Given a merger and a fresh profile", t, func() {
		m := cosmetic.New(registry.Default())
		state := model.NewProfileState("u1")

		Convey("Applying the same tag twice keeps one entry", func() {
			p := model.Payload{Tags: []model.TagRef{{ID: "tag.night_owl"}}, Unlocks: []model.UnlockRef{{ID: "unlock.avatar.aura"}}}
			st1, err := m.Merge(state, cosmeticEvent("e1", p), t0)
			So(err, ShouldBeNil)
			st2, err := m.Merge(state, cosmeticEvent("e2", p), t1)
			So(err, ShouldBeNil)

			So(state.Tags, ShouldHaveLength, 1)
			So(state.Unlocks, ShouldHaveLength, 1)
			So(state.Tags["tag.night_owl"].GrantedAt, ShouldEqual, t0)
			So(state.Tags["tag.night_owl"].SourceEvent, ShouldEqual, "e1")
			So(st1.TagsAdded, ShouldEqual, 1)
			So(st2.TagsAdded, ShouldEqual, 0)
		})

		Convey("Fields are last-write-wins", func() {
			_, err := m.Merge(state, cosmeticEvent("e1", model.Payload{Fields: []model.FieldValue{{ID: "nickname", Value: json.RawMessage(`"ada"`)}}}), t0)
			So(err, ShouldBeNil)
			_, err = m.Merge(state, cosmeticEvent("e2", model.Payload{Fields: []model.FieldValue{{ID: "nickname", Value: json.RawMessage(`"lovelace"`)}}}), t1)
			So(err, ShouldBeNil)

			So(state.Fields, ShouldHaveLength, 1)
			So(string(state.Fields["nickname"].Value), ShouldEqual, `"lovelace"`)
			So(state.Fields["nickname"].UpdatedAt, ShouldEqual, t1)
		})

		Convey("The module is recorded once with its first application", func() {
			_, _ = m.Merge(state, cosmeticEvent("e1", model.Payload{}), t0)
			_, _ = m.Merge(state, cosmeticEvent("e2", model.Payload{}), t1)
			So(state.Modules["quiz.test.v1"], ShouldEqual, t0)
		})
	})
}

func TestAstroAnchor(t *testing.T) {
	Convey("Given an astro result", t, func() {
		m := cosmetic.New(registry.Default())
		state := model.NewProfileState("u1")
		state.Traits["trait.empathy"] = &model.TraitState{TraitID: "trait.empathy", BaseScore: 50, ShiftZ: 0.8, ShiftStrength: 1.2}
		astro := &model.AstroResult{
			SunSign: "cancer",
			Element: "water",
			TraitAnchors: map[string]float64{
				"trait.empathy":    85,
				"trait.intuition":  70,
				"trait.resilience": 30,
			},
		}
		ev := cosmeticEvent("e1", model.Payload{Astro: astro})
		ev.Source.ModuleID = "onboarding.astro.v1"

		st, err := m.Merge(state, ev, t0)

		Convey("Then anchorable traits are seeded with a zero shift", func() {
			So(err, ShouldBeNil)
			So(st.AnchorsSeeded, ShouldEqual, 2)
			So(st.Seeded, ShouldResemble, []string{"trait.empathy", "trait.intuition"})
			emp := state.Traits["trait.empathy"]
			So(emp.BaseScore, ShouldEqual, 85.0)
			So(emp.ShiftZ, ShouldEqual, 0.0)
			So(emp.ShiftStrength, ShouldEqual, 1.2)
			So(emp.Anchored, ShouldBeTrue)
			So(emp.AnchorSource, ShouldEqual, cosmetic.AnchorSourceAstro)
			So(state.Traits["trait.intuition"].BaseScore, ShouldEqual, 70.0)
			So(state.Traits, ShouldNotContainKey, "trait.resilience")
			So(state.Astro.ModuleID, ShouldEqual, "onboarding.astro.v1")
			So(state.Modules, ShouldContainKey, "onboarding.astro.v1")
		})

		Convey("Then a second astro payload is refused without mutation", func() {
			before := state.Clone()
			again := cosmeticEvent("e2", model.Payload{
				Astro: &model.AstroResult{TraitAnchors: map[string]float64{"trait.empathy": 10}},
				Tags:  []model.TagRef{{ID: "tag.fire_sign"}},
			})
			_, err := m.Merge(state, again, t1)
			So(errors.Is(err, cosmetic.ErrAstroAlreadySet), ShouldBeTrue)
			So(state, ShouldResemble, before)

			_, err = m.SetAstro(state, *again.Payload.Astro, "x", "e3", t1)
			So(errors.Is(err, cosmetic.ErrAstroAlreadySet), ShouldBeTrue)
			So(state.Traits["trait.empathy"].BaseScore, ShouldEqual, 85.0)
		})

		Convey("Then mutating the input afterwards does not leak into state", func() {
			astro.TraitAnchors["trait.empathy"] = 1
			So(state.Astro.Result.TraitAnchors["trait.empathy"], ShouldEqual, 85.0)
		})
	})
}

func TestAvatar(t *testing.T) {
	Convey("Avatar params follow the dominant dimension", t, func() {
		state := model.NewProfileState("u1")
		state.Psyche.Depth.Value = 0.9
		state.Traits["trait.empathy"] = &model.TraitState{}
		state.Traits["trait.openness"] = &model.TraitState{}

		a := cosmetic.Avatar(state, 8)
		So(a.Hue, ShouldEqual, 270)
		So(a.Complexity, ShouldEqual, 0.25)
		So(a.Energy, ShouldEqual, 0.5)
		So(a.Saturation, ShouldBeBetweenOrEqual, 0.35, 1)

		So(cosmetic.Avatar(model.NewProfileState("u2"), 0).Complexity, ShouldEqual, 0.0)
	})
}
