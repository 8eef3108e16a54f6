// Package service owns the ingestion workflow around the pure engine:
// per-user locking, load, ingest, save, audit, metrics and tracing.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/okian/psyche/internal/adapters/keylock"
	"github.com/okian/psyche/internal/adapters/repository"
	"github.com/okian/psyche/internal/domain/dedupe"
	"github.com/okian/psyche/internal/domain/engine"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/validation"
	"github.com/okian/psyche/pkg/logger"
	"github.com/okian/psyche/pkg/metrics"
)

const defaultImportConcurrency = 8

var tracer = otel.Tracer("psyche/service")

// Outcome is what a caller learns about one submitted event.
type Outcome struct {
	Accepted   bool                  `json:"accepted"`
	Duplicate  bool                  `json:"duplicate,omitempty"`
	RecordID   string                `json:"recordId"`
	Validation validation.Result     `json:"validation"`
	Snapshot   model.ProfileSnapshot `json:"snapshot"`
}

// ImportItem is one event of a batch import.
type ImportItem struct {
	UserID string                  `json:"userId"`
	Event  model.ContributionEvent `json:"event"`
}

// ImportReport counts the outcomes of a batch import.
type ImportReport struct {
	Users      int `json:"users"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

// Service implements the dependencies required by the HTTP API and the CLI.
type Service struct {
	engine  *engine.Engine
	store   repository.Store
	locker  keylock.Locker
	deduper dedupe.Deduper
	log     logger.Logger
	now     func() time.Time
	newID   func() string

	importConcurrency int

	accepted   atomic.Int64
	rejected   atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64

	mu      sync.Mutex
	touched map[string]struct{}
}

// New wires a Service over an engine and a store.
func New(eng *engine.Engine, store repository.Store, opts ...Option) (*Service, error) {
	if eng == nil || store == nil {
		return nil, fmt.Errorf("%w: engine and store are required", ErrInvalidService)
	}
	s := &Service{
		engine:            eng,
		store:             store,
		locker:            keylock.NewMemory(),
		deduper:           dedupe.New(),
		log:               logger.Nop(),
		now:               time.Now,
		newID:             newRecordID,
		importConcurrency: defaultImportConcurrency,
		touched:           make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the store.
func (s *Service) Close() error {
	return s.store.Close()
}

// Engine exposes the engine, mostly for read-only registry access.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Ingest applies ev to the user's profile. Rejections are not errors: they come
// back in Outcome.Validation and are audited. Errors are storage or lock failures.
func (s *Service) Ingest(ctx context.Context, userID string, ev model.ContributionEvent) (Outcome, error) {
	return s.ingest(ctx, userID, ev)
}

// IngestStrict is Ingest that turns a rejection into *engine.ValidationError.
func (s *Service) IngestStrict(ctx context.Context, userID string, ev model.ContributionEvent) (Outcome, error) {
	out, err := s.ingest(ctx, userID, ev)
	if err != nil {
		return out, err
	}
	if !out.Accepted {
		return out, &engine.ValidationError{Result: out.Validation}
	}
	return out, nil
}

func (s *Service) ingest(ctx context.Context, userID string, ev model.ContributionEvent) (out Outcome, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "service.Ingest", trace.WithAttributes(
		attribute.String("psyche.user_id", userID),
		attribute.String("psyche.event_id", ev.EventID),
		attribute.String("psyche.module_id", ev.Source.ModuleID),
	))
	defer func() {
		metrics.RecordIngestLatency(float64(time.Since(start).Microseconds()) / 1000)
		if err != nil {
			s.failures.Add(1)
			metrics.RecordEventOutcome(metrics.OutcomeError)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("psyche.accepted", out.Accepted))
		}
		span.End()
	}()

	if err := repository.ValidateUserID(userID); err != nil {
		return Outcome{}, err
	}

	unlock, err := s.locker.Lock(ctx, "ingest:"+userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock %s: %w", userID, err)
	}
	defer unlock()

	// Recorded under the user's lock and forgotten on any failure, so the fast
	// path only answers for events that were saved.
	key := dedupe.Key(userID, ev.EventID)
	if ev.EventID != "" && s.deduper != nil && s.deduper.SeenAndRecord(ctx, key) {
		return s.duplicate(ctx, userID, ev)
	}
	recorded := ev.EventID != "" && s.deduper != nil
	defer func() {
		if recorded && (err != nil || !out.Accepted) {
			s.deduper.Unrecord(ctx, key)
		}
	}()

	state, err := s.store.Load(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if state == nil {
		state = model.NewProfileState(userID)
	}

	res := s.engine.Ingest(state, ev)
	if res.Accepted {
		if err := s.store.Save(ctx, userID, res.State); err != nil {
			return Outcome{}, err
		}
		s.touch(userID)
	}

	out = Outcome{
		Accepted:   res.Accepted,
		Duplicate:  isDuplicate(res.Validation),
		Validation: res.Validation,
		Snapshot:   res.Snapshot,
	}
	out.Snapshot.UserID = userID
	if out.RecordID, err = s.audit(ctx, userID, ev, res.Accepted, res.Validation); err != nil {
		return out, err
	}

	s.record(res)
	if res.Accepted {
		s.log.Debug(ctx, "event accepted",
			logger.String("user_id", userID),
			logger.String("event_id", ev.EventID),
			logger.String("tier", string(res.Stats.Tier)),
			logger.Int("marker_updates", res.Stats.Traits.MarkerUpdates),
			logger.Int("observation_updates", res.Stats.Traits.ObservationUpdates),
		)
	} else {
		s.log.Info(ctx, "event rejected",
			logger.String("user_id", userID),
			logger.String("event_id", ev.EventID),
			logger.Any("reasons", res.Validation.Reasons()),
		)
	}
	return out, nil
}

// duplicate answers a replay caught by the in-process fast path. The caller
// holds the user's lock.
func (s *Service) duplicate(ctx context.Context, userID string, ev model.ContributionEvent) (Outcome, error) {
	res := validation.Result{
		ModuleErrors: []validation.ModuleError{{
			ModuleID: ev.Source.ModuleID,
			Rule:     validation.RuleDuplicateEvent,
			Message:  fmt.Sprintf("event %q was already applied", ev.EventID),
		}},
	}
	state, err := s.store.Load(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if state == nil {
		state = model.NewProfileState(userID)
	}
	out := Outcome{Duplicate: true, Validation: res, Snapshot: s.engine.Snapshot(state)}
	out.Snapshot.UserID = userID
	if out.RecordID, err = s.audit(ctx, userID, ev, false, res); err != nil {
		return out, err
	}
	s.duplicates.Add(1)
	metrics.RecordEventOutcome(metrics.OutcomeDuplicate)
	s.log.Debug(ctx, "duplicate event skipped",
		logger.String("user_id", userID), logger.String("event_id", ev.EventID))
	return out, nil
}

func (s *Service) audit(ctx context.Context, userID string, ev model.ContributionEvent, accepted bool, res validation.Result) (string, error) {
	rec := model.EventRecord{
		RecordID:   s.newID(),
		UserID:     userID,
		EventID:    ev.EventID,
		ModuleID:   ev.Source.ModuleID,
		ReceivedAt: s.now().UTC(),
		Accepted:   accepted,
		Event:      ev,
	}
	switch {
	case accepted:
	case isDuplicate(res):
		rec.Duplicate = true
	default:
		rec.Rejection = res.Reasons()
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return "", err
	}
	return rec.RecordID, nil
}

func (s *Service) record(res engine.Result) {
	if !res.Accepted {
		v := res.Validation
		if isDuplicate(v) {
			s.duplicates.Add(1)
			metrics.RecordEventOutcome(metrics.OutcomeDuplicate)
		} else {
			s.rejected.Add(1)
			metrics.RecordEventOutcome(metrics.OutcomeRejected)
		}
		metrics.RecordValidationErrors("shape", len(v.ShapeErrors))
		metrics.RecordValidationErrors("unknown_id", len(v.IDErrors))
		metrics.RecordValidationErrors("module", len(v.ModuleErrors))
		return
	}
	s.accepted.Add(1)
	metrics.RecordEventOutcome(metrics.OutcomeAccepted)
	metrics.RecordTraitUpdates("marker", res.Stats.Traits.MarkerUpdates)
	metrics.RecordTraitUpdates("observation", res.Stats.Traits.ObservationUpdates)
}

func isDuplicate(v validation.Result) bool {
	for _, e := range v.ModuleErrors {
		if e.Rule == validation.RuleDuplicateEvent {
			return true
		}
	}
	return false
}

func (s *Service) touch(userID string) {
	s.mu.Lock()
	s.touched[userID] = struct{}{}
	n := len(s.touched)
	s.mu.Unlock()
	metrics.UpdateProfilesTouched(n)
}

// Validate runs a dry-run against the stored profile. Nothing is written.
func (s *Service) Validate(ctx context.Context, userID string, ev model.ContributionEvent) (validation.Result, error) {
	if err := repository.ValidateUserID(userID); err != nil {
		return validation.Result{}, err
	}
	state, err := s.store.Load(ctx, userID)
	if err != nil {
		return validation.Result{}, err
	}
	if state == nil {
		state = model.NewProfileState(userID)
	}
	return s.engine.Validate(state, ev), nil
}

// Snapshot renders the stored profile.
func (s *Service) Snapshot(ctx context.Context, userID string) (model.ProfileSnapshot, error) {
	state, err := s.store.Load(ctx, userID)
	if err != nil {
		return model.ProfileSnapshot{}, err
	}
	if state == nil {
		return model.ProfileSnapshot{}, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	snap := s.engine.Snapshot(state)
	snap.UserID = userID
	return snap, nil
}

// Events returns the user's audit log in append order.
func (s *Service) Events(ctx context.Context, userID string) ([]model.EventRecord, error) {
	return s.store.List(ctx, userID)
}

// Delete removes the profile, its audit log and any remembered event ids.
func (s *Service) Delete(ctx context.Context, userID string) (err error) {
	ctx, span := tracer.Start(ctx, "service.Delete", trace.WithAttributes(attribute.String("psyche.user_id", userID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := repository.ValidateUserID(userID); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, "ingest:"+userID)
	if err != nil {
		return fmt.Errorf("lock %s: %w", userID, err)
	}
	defer unlock()

	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Purge(ctx, userID); err != nil {
		return err
	}
	if s.deduper != nil {
		s.deduper.Forget(ctx, dedupe.Key(userID, ""))
	}
	s.log.Info(ctx, "profile deleted", logger.String("user_id", userID))
	return nil
}

// Import ingests a batch. Events of one user are applied in batch order; users
// are processed concurrently. The first storage error cancels the import.
func (s *Service) Import(ctx context.Context, items []ImportItem) (rep ImportReport, err error) {
	ctx, span := tracer.Start(ctx, "service.Import", trace.WithAttributes(attribute.Int("psyche.items", len(items))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var order []string
	byUser := make(map[string][]model.ContributionEvent)
	for _, it := range items {
		if _, ok := byUser[it.UserID]; !ok {
			order = append(order, it.UserID)
		}
		byUser[it.UserID] = append(byUser[it.UserID], it.Event)
	}

	var accepted, rejected, duplicates atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.importConcurrency)
	for _, userID := range order {
		events := byUser[userID]
		g.Go(func() error {
			for _, ev := range events {
				out, err := s.ingest(gctx, userID, ev)
				if err != nil {
					return fmt.Errorf("import %s/%s: %w", userID, ev.EventID, err)
				}
				switch {
				case out.Accepted:
					accepted.Add(1)
				case out.Duplicate:
					duplicates.Add(1)
				default:
					rejected.Add(1)
				}
			}
			return nil
		})
	}
	err = g.Wait()

	rep = ImportReport{
		Users:      len(order),
		Accepted:   int(accepted.Load()),
		Rejected:   int(rejected.Load()),
		Duplicates: int(duplicates.Load()),
	}
	s.log.Info(ctx, "import finished",
		logger.Int("users", rep.Users),
		logger.Int("accepted", rep.Accepted),
		logger.Int("rejected", rep.Rejected),
		logger.Int("duplicates", rep.Duplicates),
		logger.Error(err),
	)
	return rep, err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.Lock()
	touched := len(s.touched)
	s.mu.Unlock()

	stats := map[string]any{
		"backend":         s.store.Backend(),
		"accepted":        s.accepted.Load(),
		"rejected":        s.rejected.Load(),
		"duplicates":      s.duplicates.Load(),
		"errors":          s.failures.Load(),
		"profilesTouched": touched,
		"traitsKnown":     s.engine.Registry().TraitCount(),
	}
	if s.deduper != nil {
		stats["dedupeSize"] = s.deduper.Size()
	}
	return stats
}

// IsNotFound reports whether err means the profile does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound)
}
