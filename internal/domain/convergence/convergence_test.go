package convergence_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/psyche/internal/domain/convergence"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRenderBounds(t *testing.T) {
	Convey("Given adversarial trait states", t, func() {
		cfg := convergence.DefaultConfig()
		bases := []float64{1, 100, 50, 0, 1000, -5, math.NaN(), math.Inf(1)}
		shifts := []float64{-100, 100, 0, 1e9, -1e9, math.NaN(), math.Inf(1), math.Inf(-1)}

		Convey("Every rendered score is an integer in [1,100]", func() {
			for _, b := range bases {
				for _, s := range shifts {
					score := convergence.Render(b, s, cfg.Epsilon)
					So(score, ShouldBeBetweenOrEqual, 1, 100)
				}
			}
		})

		Convey("Extreme shifts saturate at the edges", func() {
			So(convergence.Render(1, 100, cfg.Epsilon), ShouldEqual, 100)
			So(convergence.Render(100, -100, cfg.Epsilon), ShouldEqual, 1)
			So(convergence.Render(1, -100, cfg.Epsilon), ShouldEqual, 1)
		})

		Convey("A zero shift renders the anchor", func() {
			for score := 1; score <= 100; score++ {
				So(convergence.Render(float64(score), 0, cfg.Epsilon), ShouldEqual, score)
			}
		})
	})
}

func TestConfidence(t *testing.T) {
	Convey("Confidence saturates with evidence", t, func() {
		So(convergence.Confidence(0, 2), ShouldEqual, 0.0)
		So(convergence.Confidence(-1, 2), ShouldEqual, 0.0)
		So(convergence.Confidence(math.NaN(), 2), ShouldEqual, 0.0)
		low := convergence.Confidence(0.5, 2)
		high := convergence.Confidence(5, 2)
		So(low, ShouldBeGreaterThan, 0)
		So(high, ShouldBeGreaterThan, low)
		So(convergence.Confidence(1e6, 2), ShouldBeLessThanOrEqualTo, 1)
	})
}

func TestApplyEvidence(t *testing.T) {
	Convey("Given the default config", t, func() {
		cfg := convergence.DefaultConfig()

		Convey("Weak tiers are clamped to their own band", func() {
			ts := convergence.ApplyEvidence(model.TraitState{BaseScore: 50}, 5, model.TierFlavor, cfg, now)
			So(ts.ShiftZ, ShouldEqual, 0.75)
			So(ts.UpdatedAt, ShouldEqual, now)
		})

		Convey("A shift earned by a stronger tier is not dragged down", func() {
			ts := model.TraitState{BaseScore: 50, ShiftZ: 2}
			ts = convergence.ApplyEvidence(ts, 1, model.TierFlavor, cfg, now)
			So(ts.ShiftZ, ShouldEqual, 2.0)
			ts = convergence.ApplyEvidence(ts, -1, model.TierFlavor, cfg, now)
			So(ts.ShiftZ, ShouldEqual, 1.0)
		})

		Convey("No tier exceeds the global cap", func() {
			ts := model.TraitState{BaseScore: 50, ShiftZ: 100}
			ts = convergence.ApplyEvidence(ts, 10, model.TierCore, cfg, now)
			So(ts.ShiftZ, ShouldEqual, cfg.GlobalCap())
		})

		Convey("Non-finite deltas are ignored", func() {
			ts := model.TraitState{BaseScore: 50, ShiftZ: 0.4}
			So(convergence.ApplyEvidence(ts, math.NaN(), model.TierCore, cfg, now).ShiftZ, ShouldEqual, 0.4)
			So(convergence.ApplyEvidence(ts, math.Inf(-1), model.TierCore, cfg, now).ShiftZ, ShouldEqual, 0.4)
		})
	})
}

func TestNudgeConvergence(t *testing.T) {
	Convey("Given a trait repeatedly observed at a fixed score", t, func() {
		cfg := convergence.DefaultConfig()

		for _, obs := range []float64{1, 10, 35, 80, 99, 100} {
			ts := model.TraitState{BaseScore: 50}
			prev := math.Inf(1)
			for i := 0; i < 30; i++ {
				d := convergence.Nudge(ts, obs, 1, model.TierGrowth, cfg)
				So(math.Abs(d), ShouldBeLessThan, prev)
				prev = math.Abs(d)
				ts = convergence.ApplyEvidence(ts, d, model.TierGrowth, cfg, now)
			}
			for i := 0; i < 1000; i++ {
				ts = convergence.ApplyEvidence(ts, convergence.Nudge(ts, obs, 1, model.TierGrowth, cfg), model.TierGrowth, cfg, now)
			}
			So(math.Abs(ts.ShiftZ), ShouldBeLessThan, 10)
			So(math.Abs(ts.ShiftZ), ShouldBeLessThanOrEqualTo, cfg.Cap(model.TierGrowth))
		}

		Convey("An observation equal to the anchor does not move it", func() {
			ts := model.TraitState{BaseScore: 42}
			So(convergence.Nudge(ts, 42, 1, model.TierCore, cfg), ShouldEqual, 0.0)
		})

		Convey("Zero confidence does not move it", func() {
			ts := model.TraitState{BaseScore: 42}
			So(convergence.Nudge(ts, 90, 0, model.TierCore, cfg), ShouldEqual, 0.0)
		})
	})
}

func TestAnchorDominance(t *testing.T) {
	Convey("Given a strong anchor at 90", t, func() {
		cfg := convergence.DefaultConfig()
		ts := model.TraitState{BaseScore: 90, Anchored: true}

		Convey("When opposing observations at 10 arrive twenty times", func() {
			for i := 0; i < 20; i++ {
				ts = convergence.ApplyEvidence(ts, convergence.Nudge(ts, 10, 1, model.TierGrowth, cfg), model.TierGrowth, cfg, now)
			}

			Convey("Then the shift is negative but capped near the tier maximum", func() {
				unconstrained := convergence.Logit(0.1) - convergence.Logit(0.9)
				So(ts.ShiftZ, ShouldBeLessThan, 0)
				So(math.Abs(ts.ShiftZ), ShouldBeLessThanOrEqualTo, cfg.Cap(model.TierGrowth))
				So(math.Abs(ts.ShiftZ), ShouldBeGreaterThan, 0.95*cfg.Cap(model.TierGrowth))
				So(math.Abs(ts.ShiftZ), ShouldBeLessThan, math.Abs(unconstrained)/2)
				So(convergence.Render(ts.BaseScore, ts.ShiftZ, cfg.Epsilon), ShouldBeGreaterThan, 50)
			})
		})
	})
}

func TestMarkerDeltas(t *testing.T) {
	Convey("Given markers from the built-in catalog", t, func() {
		cfg := convergence.DefaultConfig()
		reg := registry.Default()
		half := 0.5
		markers := []model.Marker{
			{ID: "marker.eq.empathy", Weight: 0.7},
			{ID: "marker.astro.water", Weight: 1, Evidence: &model.Evidence{Confidence: &half}},
			{ID: "marker.social.reserved", Weight: 0.5},
			{ID: "marker.unknown", Weight: 1},
		}

		d := convergence.MarkerDeltas(markers, reg, model.TierGrowth, cfg)

		Convey("Then contributions accumulate per trait", func() {
			So(d["trait.empathy"].DeltaZ, ShouldAlmostEqual, 0.7*0.6+0.5*0.6)
			So(d["trait.intuition"].DeltaZ, ShouldAlmostEqual, 0.5*0.5*0.6)
			So(d["trait.extraversion"].DeltaZ, ShouldAlmostEqual, -0.5*0.6)
			So(d["trait.extraversion"].Strength, ShouldAlmostEqual, 0.5*0.6)
			So(d, ShouldHaveLength, 3)
		})

		Convey("Then tiers order the gain", func() {
			core := convergence.MarkerDeltas(markers[:1], reg, model.TierCore, cfg)
			growth := convergence.MarkerDeltas(markers[:1], reg, model.TierGrowth, cfg)
			flavor := convergence.MarkerDeltas(markers[:1], reg, model.TierFlavor, cfg)
			So(core["trait.empathy"].DeltaZ, ShouldBeGreaterThan, growth["trait.empathy"].DeltaZ)
			So(growth["trait.empathy"].DeltaZ, ShouldBeGreaterThan, flavor["trait.empathy"].DeltaZ)
		})
	})
}

func TestUpdate(t *testing.T) {
	Convey("Given a fresh profile", t, func() {
		cfg := convergence.DefaultConfig()
		state := model.NewProfileState("u1")
		ev := model.ContributionEvent{
			EventID: "e1",
			Payload: model.Payload{
				Markers: []model.Marker{{ID: "marker.eq.empathy", Weight: 0.7}},
				Traits:  []model.TraitObservation{{ID: "trait.curiosity", Score: 72}},
			},
		}

		st := convergence.Update(state, ev, model.TierGrowth, registry.Default(), cfg, now)

		Convey("Then marker traits start at the default anchor", func() {
			ts := state.Traits["trait.empathy"]
			So(ts, ShouldNotBeNil)
			So(ts.BaseScore, ShouldEqual, convergence.DefaultBaseScore)
			So(ts.ShiftZ, ShouldAlmostEqual, 0.42)
			So(ts.ShiftStrength, ShouldBeGreaterThan, 0)
		})

		Convey("Then observed traits are anchored at the observation", func() {
			ts := state.Traits["trait.curiosity"]
			So(ts.BaseScore, ShouldEqual, 72.0)
			So(ts.ShiftZ, ShouldEqual, 0.0)
			So(convergence.Render(ts.BaseScore, ts.ShiftZ, cfg.Epsilon), ShouldEqual, 72)
		})

		Convey("Then stats count the work", func() {
			So(st.MarkerUpdates, ShouldEqual, 1)
			So(st.ObservationUpdates, ShouldEqual, 1)
			So(st.CreatedTraits, ShouldEqual, 2)
		})
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Config validation", t, func() {
		So(convergence.DefaultConfig().Validate(), ShouldBeNil)

		cfg := convergence.DefaultConfig()
		cfg.TierGain[model.TierFlavor] = 2
		So(errors.Is(cfg.Validate(), convergence.ErrInvalidConfig), ShouldBeTrue)

		cfg = convergence.DefaultConfig()
		cfg.LearnRate = 1
		So(errors.Is(cfg.Validate(), convergence.ErrInvalidConfig), ShouldBeTrue)

		cfg = convergence.DefaultConfig()
		cfg.ShiftCap[model.TierCore] = 0
		So(errors.Is(cfg.Validate(), convergence.ErrInvalidConfig), ShouldBeTrue)
	})
}
