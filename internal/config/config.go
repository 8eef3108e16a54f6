// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers an optional YAML file and PSYCHE_ environment variables on top.
// - Nested keys are addressed from the environment with "__",
//   e.g. PSYCHE_ENGINE__LEARN_RATE sets engine.learn_rate.
package config

import (
	"fmt"
	"time"

	"github.com/okian/psyche/internal/domain/convergence"
	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/internal/domain/psyche"
)

// Storage backends accepted by Backend.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DataDir is the root of the file and badger backends.
	DataDir string `koanf:"data_dir"`

	// Backend selects the profile and audit storage.
	Backend string `koanf:"backend"`

	// PostgresDSN is required by the postgres backend.
	PostgresDSN string `koanf:"postgres_dsn"`

	// RedisURL switches per-user locking to Redis when set.
	RedisURL string `koanf:"redis_url"`

	// LockTTLMS bounds how long a Redis lock is held without release.
	LockTTLMS int `koanf:"lock_ttl_ms"`

	// RegistryPath points to a YAML catalog. Empty uses the built-in one.
	RegistryPath string `koanf:"registry_path"`

	// DedupeSize bounds the in-process duplicate event cache. Zero disables it.
	DedupeSize int `koanf:"dedupe_size"`

	// ImportConcurrency is the number of users imported in parallel.
	ImportConcurrency int `koanf:"import_concurrency"`

	Engine EngineConfig `koanf:"engine"`
}

// TierValues carries one number per reliability tier.
type TierValues struct {
	Core   float64 `koanf:"core"`
	Growth float64 `koanf:"growth"`
	Flavor float64 `koanf:"flavor"`
}

func (v TierValues) toMap() map[model.Tier]float64 {
	return map[model.Tier]float64{
		model.TierCore:   v.Core,
		model.TierGrowth: v.Growth,
		model.TierFlavor: v.Flavor,
	}
}

// EngineConfig exposes the convergence and psyche tuning.
type EngineConfig struct {
	TierGains        TierValues `koanf:"tier_gains"`
	ShiftCaps        TierValues `koanf:"shift_caps"`
	LearnRate        float64    `koanf:"learn_rate"`
	Epsilon          float64    `koanf:"epsilon"`
	ConfidenceScale  float64    `koanf:"confidence_scale"`
	DefaultBaseScore float64    `koanf:"default_base_score"`
	PsycheBlend      float64    `koanf:"psyche_blend"`
	RecentEventLimit int        `koanf:"recent_event_limit"`
}

// Convergence converts the engine section into convergence tuning.
func (e EngineConfig) Convergence() convergence.Config {
	return convergence.Config{
		TierGain:         e.TierGains.toMap(),
		ShiftCap:         e.ShiftCaps.toMap(),
		LearnRate:        e.LearnRate,
		Epsilon:          e.Epsilon,
		ConfidenceScale:  e.ConfidenceScale,
		DefaultBaseScore: e.DefaultBaseScore,
	}
}

// LockTTL returns LockTTLMS as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// New creates a Config with defaults.
func New() *Config {
	conv := convergence.DefaultConfig()
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		DataDir:           "./data",
		Backend:           BackendFile,
		LockTTLMS:         10_000,
		DedupeSize:        50_000,
		ImportConcurrency: 8,
		Engine: EngineConfig{
			TierGains: TierValues{
				Core:   conv.TierGain[model.TierCore],
				Growth: conv.TierGain[model.TierGrowth],
				Flavor: conv.TierGain[model.TierFlavor],
			},
			ShiftCaps: TierValues{
				Core:   conv.ShiftCap[model.TierCore],
				Growth: conv.ShiftCap[model.TierGrowth],
				Flavor: conv.ShiftCap[model.TierFlavor],
			},
			LearnRate:        conv.LearnRate,
			Epsilon:          conv.Epsilon,
			ConfidenceScale:  conv.ConfidenceScale,
			DefaultBaseScore: conv.DefaultBaseScore,
			PsycheBlend:      psyche.DefaultBlend,
			RecentEventLimit: convergence.DefaultRecentEventLimit,
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	switch c.Backend {
	case BackendFile, BackendBadger:
		if c.DataDir == "" {
			return fmt.Errorf("%w: data_dir is required by the %s backend", ErrInvalidConfig, c.Backend)
		}
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required by the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.LockTTLMS <= 0 {
		return fmt.Errorf("%w: lock_ttl_ms must be > 0", ErrInvalidConfig)
	}
	if c.DedupeSize < 0 {
		return fmt.Errorf("%w: dedupe_size must be >= 0", ErrInvalidConfig)
	}
	if c.ImportConcurrency < 1 {
		return fmt.Errorf("%w: import_concurrency must be >= 1", ErrInvalidConfig)
	}
	if err := c.Engine.Convergence().Validate(); err != nil {
		return fmt.Errorf("%w: engine: %w", ErrInvalidConfig, err)
	}
	if c.Engine.PsycheBlend <= 0 || c.Engine.PsycheBlend > 1 {
		return fmt.Errorf("%w: engine.psyche_blend must be in (0,1]", ErrInvalidConfig)
	}
	if c.Engine.RecentEventLimit < 0 {
		return fmt.Errorf("%w: engine.recent_event_limit must be >= 0", ErrInvalidConfig)
	}
	return nil
}
