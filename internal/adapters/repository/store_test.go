package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/psyche/internal/adapters/repository"
	"github.com/okian/psyche/internal/domain/model"
)

var at = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func sampleState(userID string) *model.ProfileState {
	s := model.NewProfileState(userID)
	s.Traits["trait.empathy"] = &model.TraitState{
		TraitID: "trait.empathy", BaseScore: 62, ShiftZ: 0.35, ShiftStrength: 1.2, UpdatedAt: at,
	}
	s.Tags["tag.early_adopter"] = model.TagState{ID: "tag.early_adopter", GrantedAt: at, SourceEvent: "evt-1"}
	s.Fields["field.nickname"] = model.FieldState{ID: "field.nickname", Value: json.RawMessage(`"kit"`), UpdatedAt: at}
	s.Modules["quiz.test.v1"] = at
	s.Psyche.Connection = model.DimensionState{Value: 0.6, Updates: 1}
	s.Meta = model.Meta{EventCount: 1, LastUpdatedAt: at, Completion: 0.25, RecentEventIDs: []string{"evt-1"}}
	return s
}

func sampleRecord(userID, eventID string, accepted bool) model.EventRecord {
	rec := model.EventRecord{
		RecordID:   "rec-" + eventID,
		UserID:     userID,
		EventID:    eventID,
		ModuleID:   "quiz.test.v1",
		ReceivedAt: at,
		Accepted:   accepted,
		Event: model.ContributionEvent{
			SpecVersion: model.SpecVersion,
			EventID:     eventID,
			OccurredAt:  at,
			Source:      model.Source{Vertical: "quiz", ModuleID: "quiz.test.v1"},
			Payload:     model.Payload{Markers: []model.Marker{{ID: "marker.eq.empathy", Weight: 0.7}}},
		},
	}
	if !accepted {
		rec.Rejection = []string{"module quiz.test.v1: runOnce"}
	}
	return rec
}

// storeContract runs the behaviour every backend shares.
func storeContract(t *testing.T, name string, open func() repository.Store) {
	Convey("Given a "+name+" store", t, func() {
		ctx := context.Background()
		s := open()
		Reset(func() { _ = s.Close() })

		Convey("Loading a missing profile returns nil without error", func() {
			got, err := s.Load(ctx, "nobody")
			So(err, ShouldBeNil)
			So(got, ShouldBeNil)

			ok, err := s.Exists(ctx, "nobody")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("When a profile is saved", func() {
			want := sampleState("u-1")
			So(s.Save(ctx, "u-1", want), ShouldBeNil)

			Convey("Then it loads back unchanged", func() {
				got, err := s.Load(ctx, "u-1")
				So(err, ShouldBeNil)
				So(cmp.Diff(want, got), ShouldBeEmpty)

				ok, err := s.Exists(ctx, "u-1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})

			Convey("Then mutating the loaded copy does not leak into the store", func() {
				got, err := s.Load(ctx, "u-1")
				So(err, ShouldBeNil)
				got.Traits["trait.empathy"].ShiftZ = 9

				again, err := s.Load(ctx, "u-1")
				So(err, ShouldBeNil)
				So(again.Traits["trait.empathy"].ShiftZ, ShouldEqual, 0.35)
			})

			Convey("Then saving again replaces it", func() {
				want.Meta.EventCount = 2
				So(s.Save(ctx, "u-1", want), ShouldBeNil)
				got, err := s.Load(ctx, "u-1")
				So(err, ShouldBeNil)
				So(got.Meta.EventCount, ShouldEqual, 2)
			})

			Convey("Then deleting removes it and a second delete is a no-op", func() {
				So(s.Delete(ctx, "u-1"), ShouldBeNil)
				got, err := s.Load(ctx, "u-1")
				So(err, ShouldBeNil)
				So(got, ShouldBeNil)
				So(s.Delete(ctx, "u-1"), ShouldBeNil)
			})
		})

		Convey("Saving nil state fails", func() {
			So(errors.Is(s.Save(ctx, "u-1", nil), repository.ErrNilState), ShouldBeTrue)
		})

		Convey("Unsafe user ids are refused everywhere", func() {
			for _, id := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`, "a b"} {
				_, err := s.Load(ctx, id)
				So(errors.Is(err, repository.ErrInvalidUserID), ShouldBeTrue)
				So(errors.Is(s.Save(ctx, id, sampleState(id)), repository.ErrInvalidUserID), ShouldBeTrue)
				So(errors.Is(s.Append(ctx, sampleRecord(id, "evt-1", true)), repository.ErrInvalidUserID), ShouldBeTrue)
			}
		})

		Convey("When records are appended", func() {
			for i := 1; i <= 3; i++ {
				So(s.Append(ctx, sampleRecord("u-1", fmt.Sprintf("evt-%d", i), i != 2)), ShouldBeNil)
			}
			So(s.Append(ctx, sampleRecord("u-2", "evt-x", true)), ShouldBeNil)

			Convey("Then they list in append order per user", func() {
				recs, err := s.List(ctx, "u-1")
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 3)
				So([]string{recs[0].EventID, recs[1].EventID, recs[2].EventID}, ShouldResemble, []string{"evt-1", "evt-2", "evt-3"})
				So(recs[1].Accepted, ShouldBeFalse)
				So(recs[1].Rejection, ShouldResemble, []string{"module quiz.test.v1: runOnce"})
				So(recs[0].Event.Payload.Markers[0].ID, ShouldEqual, "marker.eq.empathy")

				n, err := s.Count(ctx, "u-1")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
			})

			Convey("Then purging drops only that user's log", func() {
				So(s.Purge(ctx, "u-1"), ShouldBeNil)
				n, err := s.Count(ctx, "u-1")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)

				n, err = s.Count(ctx, "u-2")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)

				So(s.Append(ctx, sampleRecord("u-1", "evt-4", true)), ShouldBeNil)
				recs, err := s.List(ctx, "u-1")
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
			})
		})

		Convey("Listing an empty log returns an empty slice", func() {
			recs, err := s.List(ctx, "nobody")
			So(err, ShouldBeNil)
			So(recs, ShouldNotBeNil)
			So(recs, ShouldBeEmpty)
		})

		Convey("After Close operations fail", func() {
			So(s.Close(), ShouldBeNil)
			_, err := s.Load(ctx, "u-1")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, "memory", func() repository.Store { return repository.NewMemoryStore() })
}

func TestValidateUserID(t *testing.T) {
	Convey("User ids are checked for file safety", t, func() {
		for _, id := range []string{"u-1", "User_2", "a.b.c", "0"} {
			So(repository.ValidateUserID(id), ShouldBeNil)
		}
		long := make([]byte, 129)
		for i := range long {
			long[i] = 'a'
		}
		for _, id := range []string{"", ".", "..", "../x", "x/..", "x\x00", "ü", string(long)} {
			So(errors.Is(repository.ValidateUserID(id), repository.ErrInvalidUserID), ShouldBeTrue)
		}
	})
}
