package api

import (
	"encoding/json"
	"net/http"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/pkg/logger"
)

const maxEventBytes = 1 << 20

// ProfilesHandler serves the /profiles/{id} routes.
type ProfilesHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewProfilesHandler creates a profiles handler.
func NewProfilesHandler(deps Dependencies, log logger.Logger) *ProfilesHandler {
	return &ProfilesHandler{deps: deps, log: log}
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (model.ContributionEvent, error) {
	var ev model.ContributionEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// HandlePostEvent handles POST /profiles/{id}/events.
// 200 when the event was applied or is a known duplicate, 422 when rejected.
func (h *ProfilesHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	ev, err := decodeEvent(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.Ingest(r.Context(), r.PathValue("id"), ev)
	if err != nil {
		h.log.Error(r.Context(), "ingest failed",
			logger.String("user_id", r.PathValue("id")), logger.String("event_id", ev.EventID), logger.Error(err))
		writeServiceError(w, op, err)
		return
	}
	status := http.StatusOK
	if !out.Accepted && !out.Duplicate {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, out)
}

// HandleValidate handles POST /profiles/{id}/validate. Nothing is written.
func (h *ProfilesHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.validate"
	ev, err := decodeEvent(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Validate(r.Context(), r.PathValue("id"), ev)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSnapshot handles GET /profiles/{id}/snapshot.
func (h *ProfilesHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "api.snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleListEvents handles GET /profiles/{id}/events.
func (h *ProfilesHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deps.Events(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "api.list_events", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleDelete handles DELETE /profiles/{id}.
func (h *ProfilesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, "api.delete_profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
