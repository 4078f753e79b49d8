package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/withObsrvr/erp-mirror/internal/checkpoint"
	"github.com/withObsrvr/erp-mirror/internal/logging"
	"github.com/withObsrvr/erp-mirror/internal/metrics"
	"github.com/withObsrvr/erp-mirror/internal/storage"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// Cycle runs one extract, validate, archive and replicate pass.
type Cycle struct {
	extractor  *Extractor
	replicator *Replicator
	archive    storage.SnapshotStore
	checkpoint checkpoint.Manager
	instanceID string

	mu    sync.Mutex // guards state
	state *checkpoint.Checkpoint
	log   *slog.Logger
}

// CycleOption configures optional collaborators of a Cycle.
type CycleOption func(*Cycle)

// WithArchive archives every extracted snapshot before it is replicated.
func WithArchive(store storage.SnapshotStore) CycleOption {
	return func(c *Cycle) { c.archive = store }
}

// WithCheckpoint persists the outcome of every cycle.
func WithCheckpoint(mgr checkpoint.Manager, instanceID string) CycleOption {
	return func(c *Cycle) {
		c.checkpoint = mgr
		c.instanceID = instanceID
	}
}

// NewCycle creates a cycle runner.
func NewCycle(extractor *Extractor, replicator *Replicator, opts ...CycleOption) *Cycle {
	c := &Cycle{
		extractor:  extractor,
		replicator: replicator,
		log:        slog.With("component", "cycle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadState reads the persisted checkpoint and logs how stale the mirror is.
// A missing checkpoint is not an error.
func (c *Cycle) LoadState(ctx context.Context) (*checkpoint.Checkpoint, error) {
	if c.checkpoint == nil {
		return nil, nil
	}

	cp, err := c.checkpoint.Load(ctx)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNoCheckpoint) {
			c.log.Info("no previous sync state, starting fresh")
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	c.mu.Lock()
	c.state = cp
	c.mu.Unlock()

	if age, ok := cp.Staleness(time.Now().UTC()); ok {
		c.log.Info("loaded sync state",
			"last_success_cycle_id", cp.LastSuccessID,
			"last_success_at", cp.LastSuccessAt,
			"staleness", age.Round(time.Second),
		)
	} else {
		c.log.Warn("loaded sync state without a successful cycle")
	}
	return cp, nil
}

// RunCycle runs one cycle and reports only its error. It is the scheduler's
// unit of work.
func (c *Cycle) RunCycle(ctx context.Context) error {
	_, err := c.Run(ctx)
	return err
}

// Run extracts a fresh snapshot and replicates it. The returned error wraps
// ErrCycleFatal when nothing reached the mirror; partial cycles only
// surface in the report.
func (c *Cycle) Run(ctx context.Context) (Report, error) {
	ctx = ensureCorrelationID(ctx)

	snap, stats := c.extractor.FetchCycleData(ctx)
	logger := logging.CycleLogger(logging.CorrelationID(ctx), snap.CycleID)

	validation := ValidateSnapshot(snap)
	for _, w := range validation.Warnings {
		logger.Warn("snapshot validation warning", "warning", w)
	}
	if m := metrics.Get(); m != nil {
		for range validation.Duplicates {
			m.IncValidationWarnings("duplicate_keys")
		}
		if validation.Empty {
			m.IncValidationWarnings("empty_snapshot")
		}
	}

	archive := c.archiveSnapshot(ctx, snap, logger)

	report := c.replicator.Replicate(ctx, snap)
	if len(stats.SourceErrors) > 0 {
		report.SourceErrors = stats.SourceErrors
	}
	report.Warnings = validation.Warnings
	report.Archive = archive

	return report, c.finish(ctx, report, logger)
}

// Replay replicates a previously archived snapshot. Every class starts
// with a reset batch, so replaying is safe.
func (c *Cycle) Replay(ctx context.Context, snap tables.Snapshot) (Report, error) {
	ctx = ensureCorrelationID(ctx)
	logger := logging.CycleLogger(logging.CorrelationID(ctx), snap.CycleID)
	logger.Info("replaying archived snapshot",
		"extracted_at", snap.ExtractedAt,
		"picks", len(snap.OrderSummaries),
		"work_orders", len(snap.WorkOrders),
	)

	report := c.replicator.Replicate(ctx, snap)
	return report, c.finish(ctx, report, logger)
}

// State returns a copy of the last checkpoint loaded or written by this
// runner, or nil before the first cycle.
func (c *Cycle) State() *checkpoint.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	cp := *c.state
	return &cp
}

func (c *Cycle) archiveSnapshot(ctx context.Context, snap tables.Snapshot, logger *slog.Logger) string {
	if c.archive == nil {
		return ""
	}

	ref, err := c.archive.WriteSnapshot(ctx, snap)
	if err != nil {
		logger.Error("failed to archive snapshot", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncArchiveErrors()
		}
		return ""
	}

	uri := c.archive.Location(ref)
	logger.Debug("snapshot archived", "uri", uri)
	return uri
}

func (c *Cycle) finish(ctx context.Context, report Report, logger *slog.Logger) error {
	if m := metrics.Get(); m != nil {
		m.RecordCycle(string(report.Result), report.Transport, report.Duration())
	}

	c.saveCheckpoint(ctx, report, logger)

	if report.Result == ResultFailure {
		if report.DirectErr != nil && report.BatchesFailed == 0 {
			return fmt.Errorf("%w: cycle %s: %w", ErrCycleFatal, report.CycleID, report.DirectErr)
		}
		return fmt.Errorf("%w: cycle %s: %d of %d batches failed",
			ErrCycleFatal, report.CycleID, report.BatchesFailed, report.BatchesFailed+report.BatchesSent)
	}
	return nil
}

func (c *Cycle) saveCheckpoint(ctx context.Context, report Report, logger *slog.Logger) {
	if c.checkpoint == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		c.state = &checkpoint.Checkpoint{InstanceID: c.instanceID}
	}
	c.state.Record(checkpoint.CycleInfo{
		CycleID:     report.CycleID,
		Result:      string(report.Result),
		Transport:   report.Transport,
		FellBack:    report.FellBack,
		Picks:       report.Written[tables.ClassOrderSummaries],
		WorkOrders:  report.Written[tables.ClassWorkOrders],
		FailedBatch: report.BatchesFailed,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Archive:     report.Archive,
	})

	if err := c.checkpoint.Save(ctx, c.state); err != nil {
		logger.Warn("failed to save checkpoint", "error", err)
	}
}

func ensureCorrelationID(ctx context.Context) context.Context {
	if logging.CorrelationID(ctx) != "" {
		return ctx
	}
	return logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
}
