package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/withObsrvr/erp-mirror/internal/config"
	"github.com/withObsrvr/erp-mirror/internal/metrics"
	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/replication"
	"github.com/withObsrvr/erp-mirror/internal/scheduler"
	"github.com/withObsrvr/erp-mirror/internal/tables"
	"github.com/withObsrvr/erp-mirror/internal/transport"
)

const metricsNamespace = "erp_mirror"

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run replication cycles on the configured interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			metrics.Init(metricsNamespace)

			eng, err := newEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			sched := scheduler.New(eng.cycle, cfg.SchedulerSettings())
			sup := newSupervisor("erp-mirror", logger)
			sup.Add(sched)
			if cfg.Metrics.Enabled {
				sup.Add(metrics.NewServer(cfg.Metrics.Address, nil, stalenessCheck(eng.cycle, cfg.Sync.Interval)))
			}

			err = sup.Serve(ctx)
			if ctx.Err() != nil {
				logger.Info("shutdown complete")
				return nil
			}
			return err
		},
	}
}

func newOnceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single replication cycle and exit",
		Long: `Run a single replication cycle and exit.

Exit codes:
  0 - success or partial
  1 - configuration or startup error
  2 - the cycle wrote nothing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}

			eng, err := newEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.cycle.Run(ctx)
			printReport(cmd, report)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return nil
		},
	}
}

type replayOptions struct {
	CycleID string
	Date    string
}

func newReplayCommand(opts *rootOptions) *cobra.Command {
	ropts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replicate an archived snapshot again",
		Long: `Read an archived cycle snapshot and send it through the replicator.

Every class starts with a reset batch, so the mirror ends up holding exactly
the archived snapshot.

Examples:
  erp-mirror replay --cycle 3f0c9d7e-...
  erp-mirror replay --cycle 3f0c9d7e-... --date 2026-03-02`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if !cfg.Archive.Enabled {
				return errors.New("replay needs archive.enabled")
			}

			eng, err := newEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			ref, err := eng.archive.FindCycle(ctx, ropts.CycleID, ropts.Date)
			if err != nil {
				return fmt.Errorf("find cycle %s: %w", ropts.CycleID, err)
			}
			snap, manifest, err := eng.archive.ReadSnapshot(ctx, ref)
			if err != nil {
				return err
			}
			logger.Info("archived snapshot loaded",
				"cycle_id", manifest.Snapshot.CycleID,
				"schema_version", manifest.Snapshot.SchemaVersion,
				"location", eng.archive.Location(ref),
			)

			report, err := eng.cycle.Replay(ctx, snap)
			printReport(cmd, report)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ropts.CycleID, "cycle", "", "cycle ID to replay (required)")
	cmd.Flags().StringVar(&ropts.Date, "date", "", "extraction date yyyy-mm-dd (speeds up lookup)")
	_ = cmd.MarkFlagRequired("cycle")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mirror sync endpoint that accepts HTTP pushes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.RequireReceiver(); err != nil {
				return err
			}
			metrics.Init(metricsNamespace)

			var store mirror.Store
			switch cfg.Receiver.Store {
			case "memory":
				store = mirror.NewMemoryStore()
			default:
				pg, err := mirror.NewPostgresStore(ctx, cfg.ReceiverStoreSettings())
				if err != nil {
					return fmt.Errorf("open mirror store: %w", err)
				}
				store = pg
			}
			defer store.Close()

			sup := newSupervisor("erp-mirror-receiver", logger)
			sup.Add(&httpService{
				name:    "sync-receiver",
				address: cfg.Receiver.Address,
				handler: mirror.NewHandler(store, cfg.ReceiverKey()).Routes(),
				logger:  logger.With("component", "receiver"),
			})
			if cfg.Metrics.Enabled {
				sup.Add(metrics.NewServer(cfg.Metrics.Address, nil, func(ctx context.Context) error {
					_, err := store.Counts(ctx)
					return err
				}))
			}

			err = sup.Serve(ctx)
			if ctx.Err() != nil {
				logger.Info("shutdown complete")
				return nil
			}
			return err
		},
	}
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newSupervisor(name string, logger *slog.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logger}).MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}

// stalenessCheck reports unhealthy once no cycle has succeeded for three
// intervals.
func stalenessCheck(cycle *replication.Cycle, interval time.Duration) metrics.HealthFunc {
	started := time.Now()
	return func(ctx context.Context) error {
		limit := 3 * interval
		state := cycle.State()
		age, ok := state.Staleness(time.Now().UTC())
		if !ok {
			age = time.Since(started)
		}
		if age > limit {
			return fmt.Errorf("no successful cycle for %s", age.Round(time.Second))
		}
		return nil
	}
}

func printReport(cmd *cobra.Command, r replication.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cycle %s: %s via %s", r.CycleID, r.Result, r.Transport)
	if r.FellBack {
		fmt.Fprintf(out, " (fell back from %s)", transport.NameDirect)
	}
	fmt.Fprintf(out, "\n  picks: %d/%d  work_orders: %d/%d  batches: %d sent, %d failed  duration: %s\n",
		r.Written[tables.ClassOrderSummaries], r.Extracted[tables.ClassOrderSummaries],
		r.Written[tables.ClassWorkOrders], r.Extracted[tables.ClassWorkOrders],
		r.BatchesSent, r.BatchesFailed, r.Duration().Round(time.Millisecond))
	for _, f := range r.Failures {
		if f.Skipped {
			fmt.Fprintf(out, "  not sent %s#%d/%d: %v\n", f.Class, f.Index+1, f.Total, f.Err)
			continue
		}
		fmt.Fprintf(out, "  failed %s#%d/%d: %v\n", f.Class, f.Index+1, f.Total, f.Err)
	}
	if r.Archive != "" {
		fmt.Fprintf(out, "  archived: %s\n", r.Archive)
	}
}
