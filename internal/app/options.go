package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/psyche/internal/adapters/keylock"
	"github.com/okian/psyche/internal/domain/dedupe"
	"github.com/okian/psyche/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLocker replaces the in-process per-user lock, e.g. with keylock.Redis
// when several processes share one store.
func WithLocker(l keylock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithDeduper sets the duplicate fast path. Nil disables it.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) { s.deduper = d }
}

// WithImportConcurrency sets how many users Import processes in parallel.
func WithImportConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.importConcurrency = n
		}
	}
}

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRecordIDs overrides the audit record id generator.
func WithRecordIDs(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func newRecordID() string { return uuid.NewString() }
