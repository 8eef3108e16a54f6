package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/psyche/internal/adapters/http/api"
	"github.com/okian/psyche/internal/adapters/keylock"
	"github.com/okian/psyche/internal/adapters/repository"
	service "github.com/okian/psyche/internal/app"
	"github.com/okian/psyche/internal/domain/engine"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
	"github.com/okian/psyche/internal/domain/validation"
)

const quizEvent = `{
  "specVersion": "1.0",
  "eventId": "evt-1",
  "occurredAt": "2026-03-01T10:00:00Z",
  "source": {"vertical": "quiz", "moduleId": "quiz.test.v1"},
  "payload": {"markers": [{"id": "marker.eq.empathy", "weight": 0.7}]}
}`

const unknownMarkerEvent = `{
  "specVersion": "1.0",
  "eventId": "evt-2",
  "occurredAt": "2026-03-01T10:00:00Z",
  "source": {"vertical": "quiz", "moduleId": "quiz.test.v1"},
  "payload": {"markers": [{"id": "marker.nope", "weight": 0.7}]}
}`

func newHandler(t *testing.T) http.Handler {
	t.Helper()
	eng, err := engine.New(registry.Default())
	if err != nil {
		t.Fatal(err)
	}
	svc, err := service.New(eng, repository.NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	return serverFor(svc)
}

func serverFor(deps api.Dependencies) http.Handler {
	srv := api.NewServer(deps, nil)
	mux := http.NewServeMux()
	srv.Register(context.Background(), mux)
	return srv.Handler(mux)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestProfileRoutes(t *testing.T) {
	Convey("Given the HTTP API over a memory-backed service", t, func() {
		h := newHandler(t)

		Convey("When an event is posted", func() {
			w := do(h, http.MethodPost, "/profiles/u-1/events", quizEvent)

			Convey("Then it is accepted with a snapshot", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
				So(w.Header().Get(api.HeaderRequestID), ShouldNotBeEmpty)

				var out service.Outcome
				So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
				So(out.Accepted, ShouldBeTrue)
				So(out.RecordID, ShouldNotBeEmpty)
				So(out.Snapshot.UserID, ShouldEqual, "u-1")
				So(out.Snapshot.Traits[0].ID, ShouldEqual, "trait.empathy")
			})

			Convey("Then posting it again is an idempotent 200", func() {
				w := do(h, http.MethodPost, "/profiles/u-1/events", quizEvent)
				So(w.Code, ShouldEqual, http.StatusOK)
				var out service.Outcome
				So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
				So(out.Accepted, ShouldBeFalse)
				So(out.Duplicate, ShouldBeTrue)
			})

			Convey("Then the snapshot and audit log are readable", func() {
				w := do(h, http.MethodGet, "/profiles/u-1/snapshot", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var snap model.ProfileSnapshot
				So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
				So(snap.EventCount, ShouldEqual, 1)

				w = do(h, http.MethodGet, "/profiles/u-1/events", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var recs []model.EventRecord
				So(json.Unmarshal(w.Body.Bytes(), &recs), ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				So(recs[0].EventID, ShouldEqual, "evt-1")
			})

			Convey("Then DELETE removes the profile", func() {
				w := do(h, http.MethodDelete, "/profiles/u-1", "")
				So(w.Code, ShouldEqual, http.StatusNoContent)

				w = do(h, http.MethodGet, "/profiles/u-1/snapshot", "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When an event references an unknown marker", func() {
			w := do(h, http.MethodPost, "/profiles/u-1/events", unknownMarkerEvent)

			Convey("Then it is a 422 carrying the structured reasons", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				var out service.Outcome
				So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
				So(out.Validation.IDErrors, ShouldResemble, []validation.IDError{{Kind: validation.KindMarker, ID: "marker.nope"}})
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(h, http.MethodPost, "/profiles/u-1/events", "{")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, `"code":"bad_request"`)
		})

		Convey("When the user id is unsafe", func() {
			w := do(h, http.MethodPost, "/profiles/bad%20id/events", quizEvent)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When validating without writing", func() {
			w := do(h, http.MethodPost, "/profiles/u-9/validate", unknownMarkerEvent)
			So(w.Code, ShouldEqual, http.StatusOK)
			var res validation.Result
			So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
			So(res.Valid, ShouldBeFalse)

			w = do(h, http.MethodGet, "/profiles/u-9/events", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
		})

		Convey("When the snapshot of an unknown profile is requested", func() {
			w := do(h, http.MethodGet, "/profiles/ghost/snapshot", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When a route is called with the wrong method", func() {
			w := do(h, http.MethodGet, "/profiles/u-1/validate", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given the HTTP API", t, func() {
		h := newHandler(t)

		Convey("/healthz answers JSON by default", func() {
			w := do(h, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("/healthz serves metrics to Prometheus", func() {
			do(h, http.MethodGet, "/stats", "")
			req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
			req.Header.Set("Accept", "text/plain")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "psyche_http_requests_total")
		})

		Convey("/stats reports service counters", func() {
			do(h, http.MethodPost, "/profiles/u-1/events", quizEvent)
			w := do(h, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var stats map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["accepted"], ShouldEqual, 1.0)
			So(stats["backend"], ShouldEqual, "memory")
		})

		Convey("An incoming request id is echoed", func() {
			req := httptest.NewRequest(http.MethodGet, "/stats", http.NoBody)
			req.Header.Set(api.HeaderRequestID, "req-42")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			So(w.Header().Get(api.HeaderRequestID), ShouldEqual, "req-42")
		})
	})
}

// failingDeps reports lock timeouts and storage failures.
type failingDeps struct {
	err error
}

func (f *failingDeps) GetStats() map[string]any { return map[string]any{} }
func (f *failingDeps) Ingest(context.Context, string, model.ContributionEvent) (service.Outcome, error) {
	return service.Outcome{}, f.err
}
func (f *failingDeps) Validate(context.Context, string, model.ContributionEvent) (validation.Result, error) {
	return validation.Result{}, f.err
}
func (f *failingDeps) Snapshot(context.Context, string) (model.ProfileSnapshot, error) {
	return model.ProfileSnapshot{}, f.err
}
func (f *failingDeps) Events(context.Context, string) ([]model.EventRecord, error) { return nil, f.err }
func (f *failingDeps) Delete(context.Context, string) error                       { return f.err }

func TestErrorMapping(t *testing.T) {
	Convey("Given a service that fails", t, func() {
		Convey("A lock timeout is a 503", func() {
			h := serverFor(&failingDeps{err: keylock.ErrLockTimeout})
			w := do(h, http.MethodPost, "/profiles/u-1/events", quizEvent)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("A storage failure is a 500 without internals", func() {
			h := serverFor(&failingDeps{err: errors.New("disk on fire at /var/lib/psyche")})
			w := do(h, http.MethodDelete, "/profiles/u-1", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldNotContainSubstring, "/var/lib")
		})
	})
}
