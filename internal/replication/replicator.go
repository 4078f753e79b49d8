package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/erp-mirror/internal/logging"
	"github.com/withObsrvr/erp-mirror/internal/metrics"
	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/tables"
	"github.com/withObsrvr/erp-mirror/internal/transport"
)

// Replicator writes a snapshot to the mirror through the selected transport.
type Replicator struct {
	direct transport.Direct
	api    transport.API
	now    func() time.Time
	logger *slog.Logger
}

// NewReplicator creates a replicator. direct may be nil when the mirror
// database is not reachable; api may be nil when no endpoint is configured.
func NewReplicator(direct transport.Direct, api transport.API) *Replicator {
	return &Replicator{
		direct: direct,
		api:    api,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.With("component", "replicator"),
	}
}

// Mode returns the preferred transport name.
func (r *Replicator) Mode() string {
	if r.direct != nil {
		return transport.NameDirect
	}
	return transport.NameHTTP
}

// Replicate writes both record classes of the snapshot. The first batch of
// each class replaces the class; later batches append. When the direct
// transport fails the whole snapshot is resent over HTTP. Every row is
// stamped with the time replication started, including fallback rows.
func (r *Replicator) Replicate(ctx context.Context, snap tables.Snapshot) Report {
	report := newReport(snap)
	report.StartedAt = r.now()
	logger := logging.CycleLogger(logging.CorrelationID(ctx), snap.CycleID)

	switch {
	case r.direct != nil:
		report.Transport = transport.NameDirect
		err := r.replicateDirect(ctx, snap, &report, logger)
		if err == nil {
			report.Result = ResultSuccess
			break
		}

		report.DirectErr = err
		if r.api == nil {
			logger.Error("direct write failed and no http transport is configured", "error", err)
			report.Result = classify(report)
			break
		}

		logger.Warn("direct write failed, falling back to http for this cycle", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncDirectFallbacks()
		}
		report.FellBack = true
		report.Transport = transport.NameHTTP
		report.Written = make(map[tables.Class]int, len(tables.Classes))
		report.BatchesSent = 0
		r.replicateHTTP(ctx, snap, &report, logger)
		report.Result = classify(report)

	case r.api != nil:
		report.Transport = transport.NameHTTP
		r.replicateHTTP(ctx, snap, &report, logger)
		report.Result = classify(report)

	default:
		report.Result = ResultFailure
		report.DirectErr = fmt.Errorf("%w: no transport configured", ErrTransportUnavailable)
	}

	report.CompletedAt = r.now()

	if report.Transport == transport.NameDirect && report.Result == ResultSuccess {
		r.recordSync(ctx, report, logger)
	}

	logger.Info("replication complete",
		"result", report.Result,
		"transport", report.Transport,
		"fell_back", report.FellBack,
		"picks", report.Written[tables.ClassOrderSummaries],
		"work_orders", report.Written[tables.ClassWorkOrders],
		"batches_sent", report.BatchesSent,
		"batches_failed", report.BatchesFailed,
		"duration", report.Duration(),
	)
	return report
}

// replicateDirect writes each class in its own transaction. A failed class
// is rolled back by the store and aborts the direct attempt.
func (r *Replicator) replicateDirect(ctx context.Context, snap tables.Snapshot, report *Report, logger *slog.Logger) error {
	report.DirectWritten = make(map[tables.Class]int, len(tables.Classes))

	for _, c := range tables.Classes {
		batches := tables.Stamp(tables.PlanBatches(snap, c, r.direct.ChunkSize()), report.StartedAt)
		n, err := r.direct.WriteClass(ctx, c, batches)
		if err != nil {
			observeBatches(transport.NameDirect, batches, "failed")
			return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}

		observeBatches(transport.NameDirect, batches, "ok")
		report.DirectWritten[c] = int(n)
		report.Written[c] = int(n)
		report.BatchesSent += len(batches)
		logger.Debug("class written", "transport", transport.NameDirect, "class", c, "rows", n, "batches", len(batches))
	}
	return nil
}

// replicateHTTP sends every batch in order. A failed batch is recorded and
// the replicator moves on, including after a failed reset: the endpoint may
// have committed the reset before the response was lost.
func (r *Replicator) replicateHTTP(ctx context.Context, snap tables.Snapshot, report *Report, logger *slog.Logger) {
	batches := tables.Stamp(tables.PlanCycle(snap, r.api.ChunkSize()), report.StartedAt)
	resetFailed := make(map[tables.Class]bool, len(tables.Classes))

	for i, b := range batches {
		blog := logging.BatchLogger(logger, transport.NameHTTP, string(b.Class), b.Index, b.Total, b.Mode())

		if ctx.Err() != nil {
			for _, rest := range batches[i:] {
				report.recordFailure(transport.NameHTTP, rest, true, ctx.Err())
			}
			blog.Warn("cycle cancelled, remaining batches not sent", "remaining", len(batches)-i)
			return
		}

		if resetFailed[b.Class] {
			blog = blog.With("after_failed_reset", true)
			blog.Warn("sending append batch after failed reset of class", "records", b.Len())
		}

		if err := r.api.WriteBatch(ctx, b); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrBatchWrite, b.ID(), err)
			report.recordFailure(transport.NameHTTP, b, false, err)
			if b.Reset {
				resetFailed[b.Class] = true
			}

			attrs := []any{"records", b.Len(), "error", err}
			if errors.Is(err, transport.ErrUnauthorized) {
				attrs = append(attrs, "status", 401)
			}
			var se *transport.StatusError
			if errors.As(err, &se) {
				attrs = append(attrs, "status", se.StatusCode)
			}
			blog.Error("batch failed", attrs...)
			observeBatch(transport.NameHTTP, b, "failed")
			continue
		}

		report.BatchesSent++
		report.Written[b.Class] += b.Len()
		blog.Info("batch sent", "records", b.Len())
		observeBatch(transport.NameHTTP, b, "ok")
	}
}

func (r *Replicator) recordSync(ctx context.Context, report Report, logger *slog.Logger) {
	entry := mirror.SyncLogEntry{
		CycleID:     report.CycleID,
		Transport:   report.Transport,
		Result:      string(report.Result),
		Picks:       report.Written[tables.ClassOrderSummaries],
		WorkOrders:  report.Written[tables.ClassWorkOrders],
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
	if err := r.direct.RecordSync(ctx, entry); err != nil {
		logger.Warn("failed to record sync log entry", "error", err)
	}
}

func (r *Report) recordFailure(name string, b tables.Batch, skipped bool, err error) {
	r.BatchesFailed++
	r.Failures = append(r.Failures, BatchFailure{
		Transport: name,
		Class:     b.Class,
		Index:     b.Index,
		Total:     b.Total,
		Reset:     b.Reset,
		Records:   b.Len(),
		Skipped:   skipped,
		Err:       err,
	})
}

// classify derives the cycle result: success when every batch landed,
// failure when nothing reached the mirror, partial otherwise.
func classify(r Report) Result {
	wroteSomething := r.BatchesSent > 0 || len(r.DirectWritten) > 0
	switch {
	case r.BatchesFailed == 0 && r.DirectErr == nil:
		return ResultSuccess
	case r.BatchesFailed == 0 && r.FellBack:
		return ResultSuccess
	case wroteSomething:
		return ResultPartial
	default:
		return ResultFailure
	}
}

func observeBatch(name string, b tables.Batch, outcome string) {
	if m := metrics.Get(); m != nil {
		m.RecordBatch(name, string(b.Class), outcome, b.Len())
	}
}

func observeBatches(name string, batches []tables.Batch, outcome string) {
	for _, b := range batches {
		observeBatch(name, b, outcome)
	}
}
