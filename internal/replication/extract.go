package replication

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/erp-mirror/internal/metrics"
	"github.com/withObsrvr/erp-mirror/internal/source"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// ExtractStats describes what happened during one extraction.
type ExtractStats struct {
	SourceErrors map[tables.Class]error
	Rejected     map[tables.Class]int
}

// Extractor turns source query results into a normalized snapshot.
type Extractor struct {
	src    source.Source
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewExtractor creates an extractor reading from src.
func NewExtractor(src source.Source) *Extractor {
	return &Extractor{
		src:    src,
		logger: slog.With("component", "extractor"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// FetchCycleData queries both record classes. A failed query degrades its
// class to an empty result; the other class is still returned.
func (e *Extractor) FetchCycleData(ctx context.Context) (tables.Snapshot, ExtractStats) {
	snap := tables.Snapshot{
		CycleID:     e.newID(),
		ExtractedAt: e.now(),
	}
	stats := ExtractStats{
		SourceErrors: make(map[tables.Class]error),
		Rejected:     make(map[tables.Class]int),
	}
	logger := e.logger.With("cycle_id", snap.CycleID)

	rows, err := e.src.OpenOrderSummaries(ctx)
	if err != nil {
		stats.SourceErrors[tables.ClassOrderSummaries] = e.sourceFailed(logger, tables.ClassOrderSummaries, err)
	} else {
		snap.OrderSummaries, stats.Rejected[tables.ClassOrderSummaries] =
			normalizeRows(logger, tables.ClassOrderSummaries, rows, tables.NormalizeOrderSummary)
	}

	rows, err = e.src.OpenWorkOrders(ctx)
	if err != nil {
		stats.SourceErrors[tables.ClassWorkOrders] = e.sourceFailed(logger, tables.ClassWorkOrders, err)
	} else {
		snap.WorkOrders, stats.Rejected[tables.ClassWorkOrders] =
			normalizeRows(logger, tables.ClassWorkOrders, rows, tables.NormalizeWorkOrder)
	}

	if m := metrics.Get(); m != nil {
		for _, c := range tables.Classes {
			m.RecordExtracted(string(c), snap.Len(c), stats.Rejected[c])
		}
	}

	logger.Info("extraction complete",
		"picks", len(snap.OrderSummaries),
		"work_orders", len(snap.WorkOrders),
		"source_errors", len(stats.SourceErrors),
	)
	return snap, stats
}

func (e *Extractor) sourceFailed(logger *slog.Logger, class tables.Class, err error) error {
	wrapped := fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, class, err)
	logger.Error("source query failed, class degraded to empty", "class", class, "error", err)
	if m := metrics.Get(); m != nil {
		m.IncSourceErrors(string(class))
	}
	return wrapped
}

// normalizeRows converts raw rows, dropping and logging the ones that fail.
func normalizeRows[T any](logger *slog.Logger, class tables.Class, rows []source.Row, fn func(map[string]any) (T, error)) ([]T, int) {
	out := make([]T, 0, len(rows))
	rejected := 0
	for i, row := range rows {
		rec, err := fn(row)
		if err != nil {
			rejected++
			logger.Warn("row rejected", "class", class, "row", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rejected
}
