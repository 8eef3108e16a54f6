package testevents

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	service "github.com/okian/psyche/internal/app"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/registry"
	"github.com/okian/psyche/pkg/logger"
)

const directoryPermission = 0750

// counters are shared by the per-user workers.
type counters struct {
	submitted, accepted, duplicate, rejected, failed, verified, violations atomic.Int64
}

// Run generates events for cfg.Users users, posts them to the service, replays
// a share of them and verifies every resulting snapshot.
func Run(ctx context.Context, cfg *Config, cat registry.Catalog, log logger.Logger) (*Stats, error) {
	if log == nil {
		log = logger.Nop()
	}
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("eventsPerUser", cfg.EventsPerUser),
		logger.Int("workers", cfg.Workers),
		logger.Float64("duplicateRate", cfg.DuplicateRate))

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	gen, err := NewGenerator(cat, cfg.Seed, stats.StartTime)
	if err != nil {
		return nil, err
	}
	batches := gen.Batches(cfg.Users, cfg.EventsPerUser)
	stats.UsersGenerated = len(batches)
	for _, b := range batches {
		stats.EventsGenerated += len(b.Events)
	}

	if cfg.OutputFile != "" {
		if err := SaveJSONL(cfg.OutputFile, batches); err != nil {
			log.Warn(ctx, "failed to save events", logger.Error(err))
		}
	}

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Workers))
	for i, b := range batches {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
		g.Go(func() error {
			return runBatch(gctx, client, b, rng, cfg, &c, log)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.EventsSubmitted = int(c.submitted.Load())
	stats.EventsAccepted = int(c.accepted.Load())
	stats.EventsDuplicate = int(c.duplicate.Load())
	stats.EventsRejected = int(c.rejected.Load())
	stats.EventsFailed = int(c.failed.Load())
	stats.SnapshotsVerified = int(c.verified.Load())
	stats.Violations = int(c.violations.Load())
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	logStats(ctx, log, stats)
	if stats.Violations > 0 {
		return stats, fmt.Errorf("%d snapshots violated profile invariants", stats.Violations)
	}
	return stats, nil
}

// runBatch posts one user's events in order. Only context cancellation aborts
// the group; request failures are counted.
func runBatch(ctx context.Context, client *Client, b Batch, rng *rand.Rand, cfg *Config, c *counters, log logger.Logger) error {
	accepted := 0
	for _, ev := range b.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := submit(ctx, client, b.UserID, ev, c, cfg.Verbose, log)
		if res != ResultAccepted {
			continue
		}
		accepted++
		if rng.Float64() < cfg.DuplicateRate {
			if again := submit(ctx, client, b.UserID, ev, c, cfg.Verbose, log); again == ResultAccepted {
				c.violations.Add(1)
				log.Error(ctx, "replayed event was applied twice",
					logger.String("userId", b.UserID), logger.String("eventId", ev.EventID))
				accepted++
			}
		}
	}
	if accepted == 0 {
		return nil
	}

	snap, err := client.Snapshot(ctx, b.UserID)
	if err != nil {
		c.failed.Add(1)
		log.Warn(ctx, "snapshot fetch failed", logger.String("userId", b.UserID), logger.Error(err))
		return nil
	}
	c.verified.Add(1)
	if err := VerifySnapshot(snap, accepted); err != nil {
		c.violations.Add(1)
		log.Error(ctx, "snapshot violates invariants", logger.String("userId", b.UserID), logger.Error(err))
	}
	return nil
}

func submit(ctx context.Context, client *Client, userID string, ev model.ContributionEvent, c *counters, verbose bool, log logger.Logger) Result {
	c.submitted.Add(1)
	res, out, err := client.Post(ctx, userID, ev)
	switch res {
	case ResultAccepted:
		c.accepted.Add(1)
	case ResultDuplicate:
		c.duplicate.Add(1)
	case ResultRejected:
		c.rejected.Add(1)
		if verbose {
			log.Warn(ctx, "event rejected",
				logger.String("userId", userID),
				logger.String("eventId", ev.EventID),
				logger.Any("validation", out.Validation))
		}
	default:
		c.failed.Add(1)
		log.Warn(ctx, "event submission failed", logger.String("userId", userID), logger.Error(err))
	}
	return res
}

// SaveJSONL writes batches as import items, one per line, in stream order.
func SaveJSONL(path string, batches []Batch) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, b := range batches {
		for _, ev := range b.Events {
			if err := enc.Encode(service.ImportItem{UserID: b.UserID, Event: ev}); err != nil {
				_ = f.Close()
				return fmt.Errorf("encode event %s: %w", ev.EventID, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush: %w", err)
	}
	return f.Close()
}

func logStats(ctx context.Context, log logger.Logger, s *Stats) {
	var eventsPerSecond float64
	if s.Duration > 0 {
		eventsPerSecond = float64(s.EventsSubmitted) / s.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("users", s.UsersGenerated),
		logger.Int("eventsGenerated", s.EventsGenerated),
		logger.Int("eventsSubmitted", s.EventsSubmitted),
		logger.Int("eventsAccepted", s.EventsAccepted),
		logger.Int("eventsDuplicate", s.EventsDuplicate),
		logger.Int("eventsRejected", s.EventsRejected),
		logger.Int("eventsFailed", s.EventsFailed),
		logger.Int("snapshotsVerified", s.SnapshotsVerified),
		logger.Int("violations", s.Violations),
		logger.Duration("duration", s.Duration),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
