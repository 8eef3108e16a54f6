package snapshot_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/okian/psyche/internal/domain/convergence"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/snapshot"
	. "github.com/smartystreets/goconvey/convey"
)

func richState() *model.ProfileState {
	s := model.NewProfileState("u1")
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.Traits["trait.openness"] = &model.TraitState{TraitID: "trait.openness", BaseScore: 60, ShiftZ: 0.4, ShiftStrength: 1.1}
	s.Traits["trait.empathy"] = &model.TraitState{TraitID: "trait.empathy", BaseScore: 85, Anchored: true, AnchorSource: "astro"}
	s.Traits["trait.extreme.hi"] = &model.TraitState{BaseScore: 100, ShiftZ: 100}
	s.Traits["trait.extreme.lo"] = &model.TraitState{BaseScore: 1, ShiftZ: -100}
	s.Traits["trait.nan"] = &model.TraitState{BaseScore: math.NaN(), ShiftZ: math.NaN(), ShiftStrength: math.NaN()}
	s.Tags["tag.night_owl"] = model.TagState{ID: "tag.night_owl", GrantedAt: at}
	s.Tags["tag.early_adopter"] = model.TagState{ID: "tag.early_adopter", GrantedAt: at}
	s.Unlocks["unlock.theme.cosmic"] = model.TagState{ID: "unlock.theme.cosmic", GrantedAt: at}
	s.Fields["nickname"] = model.FieldState{ID: "nickname", Value: json.RawMessage(`"ada"`)}
	s.Fields["color"] = model.FieldState{ID: "color", Value: json.RawMessage(`{"h":120}`)}
	s.Astro = &model.AstroAnchor{Result: model.AstroResult{SunSign: "cancer", Element: "water"}}
	s.ArchetypeMix = map[model.Dimension]float64{model.DimConnection: 0.3, model.DimDepth: 0.7}
	s.Meta = model.Meta{EventCount: 3, LastUpdatedAt: at, Completion: 0.375}
	return s
}

func TestBuild(t *testing.T) {
	Convey("Given a populated profile", t, func() {
		b := snapshot.New(convergence.DefaultConfig())
		state := richState()

		snap := b.Build(state)

		Convey("Then traits are sorted and bounded", func() {
			ids := make([]string, 0, len(snap.Traits))
			for _, tv := range snap.Traits {
				ids = append(ids, tv.ID)
				So(tv.Score, ShouldBeBetweenOrEqual, 1, 100)
				So(tv.Confidence, ShouldBeBetweenOrEqual, 0, 1)
			}
			So(ids, ShouldResemble, []string{"trait.empathy", "trait.extreme.hi", "trait.extreme.lo", "trait.nan", "trait.openness"})
			So(snap.Traits[0].Score, ShouldEqual, 85)
			So(snap.Traits[0].Anchored, ShouldBeTrue)
			So(snap.Traits[1].Score, ShouldEqual, 100)
			So(snap.Traits[2].Score, ShouldEqual, 1)
			So(snap.Traits[3].Score, ShouldEqual, 50)
		})

		Convey("Then cosmetics are projected in order", func() {
			So(snap.Tags, ShouldResemble, []string{"tag.early_adopter", "tag.night_owl"})
			So(snap.Unlocks, ShouldResemble, []string{"unlock.theme.cosmic"})
			So(string(snap.Fields["color"]), ShouldEqual, `{"h":120}`)
			So(snap.Astro.SunSign, ShouldEqual, "cancer")
			So(snap.Completion, ShouldEqual, 38)
			So(snap.EventCount, ShouldEqual, 3)
			So(snap.ArchetypeMix, ShouldHaveLength, 5)
			So(snap.ArchetypeMix[0].Dimension, ShouldEqual, model.DimConnection)
		})

		Convey("Then building twice is byte-identical", func() {
			again := b.Build(state)
			So(cmp.Diff(snap, again), ShouldBeEmpty)

			first, err := json.Marshal(snap)
			So(err, ShouldBeNil)
			second, err := json.Marshal(again)
			So(err, ShouldBeNil)
			So(string(second), ShouldEqual, string(first))
		})

		Convey("Then the snapshot does not alias state", func() {
			snap.Fields["nickname"][1] = 'X'
			So(string(state.Fields["nickname"].Value), ShouldEqual, `"ada"`)
		})
	})

	Convey("A nil state renders an empty profile", t, func() {
		snap := snapshot.New(convergence.DefaultConfig()).Build(nil)
		So(snap.Traits, ShouldBeEmpty)
		So(snap.Tags, ShouldNotBeNil)
		So(snap.Psyche.Depth, ShouldEqual, 0.5)
	})
}
