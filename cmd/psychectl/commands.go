package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/okian/psyche/internal/app/bootstrap"
	"github.com/okian/psyche/internal/config"
	"github.com/okian/psyche/internal/testevents"
	"github.com/okian/psyche/pkg/logger"
)

// ErrRejected is returned by ingest when the event was not applied.
var ErrRejected = errors.New("event rejected")

// globals are the persistent flags shared by every subcommand.
type globals struct {
	in       io.Reader
	out      io.Writer
	backend  string
	dataDir  string
	logLevel string
	strict   bool
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	g := &globals{in: in, out: out}

	cmd := &cobra.Command{
		Use:   "psychectl",
		Short: "Operate on trait and psyche profiles",
		Long: `psychectl reads configuration the same way the server does
(defaults, PSYCHE_CONFIG, PSYCHE_* environment) and works directly on the
configured storage backend. The load command talks to a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetIn(in)

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.backend, "backend", "", "Override the storage backend (file, memory, badger, postgres)")
	pf.StringVar(&g.dataDir, "data-dir", "", "Override the data directory")
	pf.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		ingestCmd(g),
		validateCmd(g),
		snapshotCmd(g),
		eventsCmd(g),
		deleteCmd(g),
		importCmd(g),
		registryCmd(g),
		loadCmd(g),
	)
	return cmd
}

// open loads configuration, applies flag overrides and wires the service.
func (g *globals) open(ctx context.Context) (*bootstrap.Components, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg, logger.Get())
}

// config loads configuration and sends logs to stderr so stdout stays JSON.
func (g *globals) config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.WithFormat(logger.Format(cfg.LogFormat)), logger.WithOutput(os.Stderr)); err != nil {
		return nil, err
	}
	if err := logger.SetLevelString(g.logLevel); err != nil {
		return nil, err
	}
	if g.backend != "" {
		cfg.Backend = g.backend
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withService runs fn against a freshly wired service and closes it afterwards.
func (g *globals) withService(cmd *cobra.Command, fn func(context.Context, *bootstrap.Components) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, c)
}

func (g *globals) print(v any) error {
	enc := json.NewEncoder(g.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// input opens path, or the command input for "-".
func (g *globals) input(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(g.in), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func ingestCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest USER FILE",
		Short: "Apply one contribution event (FILE may be - for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := g.readEvent(args[1])
			if err != nil {
				return err
			}
			return g.withService(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				ingest := c.Service.Ingest
				if g.strict {
					ingest = c.Service.IngestStrict
				}
				out, err := ingest(ctx, args[0], ev)
				if perr := g.print(out); perr != nil {
					return perr
				}
				if err != nil {
					return err
				}
				if !out.Accepted && !out.Duplicate {
					return ErrRejected
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&g.strict, "strict", false, "Fail with the validation error instead of printing the rejected outcome")
	return cmd
}

func validateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate USER FILE",
		Short: "Check an event against the stored profile without applying it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := g.readEvent(args[1])
			if err != nil {
				return err
			}
			return g.withService(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				res, err := c.Service.Validate(ctx, args[0], ev)
				if err != nil {
					return err
				}
				return g.print(res)
			})
		},
	}
}

func snapshotCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot USER",
		Short: "Print the rendered profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withService(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				snap, err := c.Service.Snapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return g.print(snap)
			})
		},
	}
}

func eventsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "events USER",
		Short: "Print the audit log of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withService(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				recs, err := c.Service.Events(ctx, args[0])
				if err != nil {
					return err
				}
				return g.print(recs)
			})
		},
	}
}

func deleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete USER",
		Short: "Remove a profile and its audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withService(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				return c.Service.Delete(ctx, args[0])
			})
		},
	}
}

func importCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Apply a JSON array or JSONL stream of {userId, event} items",
		Long: `Items are applied in file order per user; different users are
imported concurrently (import_concurrency). The report counts accepted,
rejected and duplicate events.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := g.readItems(args[0])
			if err != nil {
				return err
			}
			return g.withService(cmd, func(ctx context.Context, c *bootstrap.Components) error {
				rep, err := c.Service.Import(ctx, items)
				if err != nil {
					return err
				}
				return g.print(rep)
			})
		},
	}
}

func registryCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Print the marker, trait, tag, unlock and module catalog",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			reg, err := bootstrap.OpenRegistry(cfg.RegistryPath)
			if err != nil {
				return err
			}
			return g.print(reg.Catalog())
		},
	}
}

func loadCmd(g *globals) *cobra.Command {
	lc := &testevents.Config{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Generate events, post them to a running server and verify the snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			reg, err := bootstrap.OpenRegistry(cfg.RegistryPath)
			if err != nil {
				return err
			}
			stats, err := testevents.Run(cmd.Context(), lc, reg.Catalog(), logger.Get().Named("load"))
			if stats != nil {
				if perr := g.print(stats); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&lc.BaseURL, "url", "http://localhost:9080", "Base URL of the service")
	f.IntVar(&lc.Users, "users", testevents.DefaultUsers, "Number of users")
	f.IntVar(&lc.EventsPerUser, "events", testevents.DefaultEventsPerUser, "Events per user")
	f.IntVar(&lc.Workers, "workers", runtime.NumCPU()*2, "Users processed concurrently")
	f.DurationVar(&lc.Timeout, "timeout", testevents.DefaultTimeout, "HTTP request timeout")
	f.Float64Var(&lc.DuplicateRate, "duplicate-rate", testevents.DefaultDuplicateRate, "Share of events replayed to exercise deduplication")
	f.Uint64Var(&lc.Seed, "seed", 1, "Generator seed")
	f.StringVar(&lc.OutputFile, "output", "", "Write generated events as JSONL import items")
	f.BoolVar(&lc.Verbose, "verbose", false, "Log every rejected event")
	return cmd
}
