package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/psyche/internal/config"
	"github.com/okian/psyche/internal/domain/convergence"
	"github.com/okian/psyche/internal/domain/model"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Backend, convey.ShouldEqual, config.BackendFile)
			convey.So(cfg.DataDir, convey.ShouldEqual, "./data")
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
			convey.So(cfg.ImportConcurrency, convey.ShouldEqual, 8)
			convey.So(cfg.LockTTL(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the engine section mirrors the convergence defaults", func() {
			got := cfg.Engine.Convergence()
			want := convergence.DefaultConfig()
			convey.So(got.TierGain, convey.ShouldResemble, want.TierGain)
			convey.So(got.ShiftCap, convey.ShouldResemble, want.ShiftCap)
			convey.So(got.LearnRate, convey.ShouldEqual, want.LearnRate)
			convey.So(got.Epsilon, convey.ShouldEqual, want.Epsilon)
			convey.So(got.ShiftCap[model.TierFlavor], convey.ShouldEqual, 0.75)
			convey.So(cfg.Engine.PsycheBlend, convey.ShouldEqual, 0.5)
			convey.So(cfg.Engine.RecentEventLimit, convey.ShouldEqual, convergence.DefaultRecentEventLimit)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = "" }},
			{"unknown backend", func(c *config.Config) { c.Backend = "sqlite" }},
			{"no data dir", func(c *config.Config) { c.DataDir = "" }},
			{"postgres w/o dsn", func(c *config.Config) { c.Backend = config.BackendPostgres }},
			{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }},
			{"zero lock ttl", func(c *config.Config) { c.LockTTLMS = 0 }},
			{"negative dedupe", func(c *config.Config) { c.DedupeSize = -1 }},
			{"no import workers", func(c *config.Config) { c.ImportConcurrency = 0 }},
			{"inverted gains", func(c *config.Config) { c.Engine.TierGains.Flavor = 2 }},
			{"learn rate of one", func(c *config.Config) { c.Engine.LearnRate = 1 }},
			{"blend above one", func(c *config.Config) { c.Engine.PsycheBlend = 1.5 }},
			{"negative window", func(c *config.Config) { c.Engine.RecentEventLimit = -1 }},
		}
		for _, tc := range cases {
			convey.Convey("Then "+tc.name+" is rejected", func() {
				cfg := config.New()
				tc.mutate(cfg)
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("Then the memory backend needs no data dir", func() {
			cfg := config.New()
			cfg.Backend = config.BackendMemory
			cfg.DataDir = ""
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
