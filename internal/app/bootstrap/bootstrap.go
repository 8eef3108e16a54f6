// Package bootstrap assembles the service from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/okian/psyche/internal/adapters/keylock"
	"github.com/okian/psyche/internal/adapters/repository"
	service "github.com/okian/psyche/internal/app"
	"github.com/okian/psyche/internal/config"
	"github.com/okian/psyche/internal/domain/dedupe"
	"github.com/okian/psyche/internal/domain/engine"
	"github.com/okian/psyche/internal/domain/registry"
	"github.com/okian/psyche/pkg/logger"
)

// Components holds the assembled service and the resources it owns.
type Components struct {
	Service *service.Service
	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires registry, engine, storage, locking and the service from cfg.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*Components, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Components{}

	reg, err := OpenRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(reg,
		engine.WithConvergence(cfg.Engine.Convergence()),
		engine.WithPsycheBlend(cfg.Engine.PsycheBlend),
		engine.WithRecentEventLimit(cfg.Engine.RecentEventLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	locker, err := openLocker(ctx, cfg, log, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	store, err := openStore(ctx, cfg, log, locker)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithLocker(locker),
		service.WithImportConcurrency(cfg.ImportConcurrency),
	}
	if cfg.DedupeSize > 0 {
		opts = append(opts, service.WithDeduper(dedupe.New(dedupe.WithMaxSize(cfg.DedupeSize))))
	} else {
		opts = append(opts, service.WithDeduper(nil))
	}

	svc, err := service.New(eng, store, opts...)
	if err != nil {
		_ = store.Close()
		_ = c.Close()
		return nil, err
	}
	c.Service = svc
	c.closers = append(c.closers, svc.Close)
	return c, nil
}

// OpenRegistry loads the catalog at path, or the built-in one when path is empty.
func OpenRegistry(path string) (*registry.Static, error) {
	if path == "" {
		return registry.Default(), nil
	}
	reg, err := registry.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return reg, nil
}

func openLocker(ctx context.Context, cfg *config.Config, log logger.Logger, c *Components) (keylock.Locker, error) {
	if cfg.RedisURL == "" {
		return keylock.NewMemory(), nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c.closers = append(c.closers, client.Close)
	return keylock.NewRedis(client,
		keylock.WithTTL(cfg.LockTTL()),
		keylock.WithLogger(log.Named("keylock")),
	), nil
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger, locker keylock.Locker) (repository.Store, error) {
	storeLog := log.Named("repository")
	switch cfg.Backend {
	case config.BackendMemory:
		return repository.NewMemoryStore(), nil
	case config.BackendBadger:
		return repository.NewBadgerStore(filepath.Join(cfg.DataDir, "badger"), repository.WithLogger(storeLog))
	case config.BackendPostgres:
		return repository.OpenPostgres(ctx, cfg.PostgresDSN, repository.WithLogger(storeLog))
	default:
		return repository.NewFileStore(cfg.DataDir, repository.WithLogger(storeLog), repository.WithLocker(locker))
	}
}
