// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/psyche/internal/adapters/keylock"
	"github.com/okian/psyche/internal/adapters/repository"
	service "github.com/okian/psyche/internal/app"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/validation"
	"github.com/okian/psyche/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	StatsProvider

	Ingest(ctx context.Context, userID string, ev model.ContributionEvent) (service.Outcome, error)
	Validate(ctx context.Context, userID string, ev model.ContributionEvent) (validation.Result, error)
	Snapshot(ctx context.Context, userID string) (model.ProfileSnapshot, error)
	Events(ctx context.Context, userID string) ([]model.EventRecord, error)
	Delete(ctx context.Context, userID string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	profilesHandler *ProfilesHandler
	log             logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(deps),
		profilesHandler: NewProfilesHandler(deps, log),
		log:             log,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	p := s.profilesHandler
	mux.HandleFunc("POST /profiles/{id}/events", MetricsMiddleware(p.HandlePostEvent, "post_event"))
	mux.HandleFunc("POST /profiles/{id}/validate", MetricsMiddleware(p.HandleValidate, "validate"))
	mux.HandleFunc("GET /profiles/{id}/snapshot", MetricsMiddleware(p.HandleSnapshot, "snapshot"))
	mux.HandleFunc("GET /profiles/{id}/events", MetricsMiddleware(p.HandleListEvents, "list_events"))
	mux.HandleFunc("DELETE /profiles/{id}", MetricsMiddleware(p.HandleDelete, "delete_profile"))
}

// Handler returns mux wrapped in the request id and access log middleware.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return RequestIDMiddleware(LoggingMiddleware(mux, s.log))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service and storage errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, service.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, keylock.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", NewKind(op, ErrInternal))
	}
}
