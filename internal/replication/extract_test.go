package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/erp-mirror/internal/source"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

func TestFetchCycleData(t *testing.T) {
	src := &mockSource{picks: pickRows(3), workOrders: workOrderRows(4)}
	ex := NewExtractor(src)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ex.now = func() time.Time { return fixed }
	ex.newID = func() string { return "cycle-fixed" }

	snap, stats := ex.FetchCycleData(context.Background())

	assert.Equal(t, "cycle-fixed", snap.CycleID)
	assert.Equal(t, fixed, snap.ExtractedAt)
	assert.Len(t, snap.OrderSummaries, 3)
	assert.Len(t, snap.WorkOrders, 4)
	assert.Empty(t, stats.SourceErrors)
	assert.Equal(t, "1 Main St, Springfield", snap.OrderSummaries[0].Address)
}

func TestFetchCycleDataNewCycleIDEachTime(t *testing.T) {
	ex := NewExtractor(&mockSource{})
	a, _ := ex.FetchCycleData(context.Background())
	b, _ := ex.FetchCycleData(context.Background())
	assert.NotEmpty(t, a.CycleID)
	assert.NotEqual(t, a.CycleID, b.CycleID)
}

func TestFetchCycleDataDegradesFailedClass(t *testing.T) {
	src := &mockSource{
		picksErr:   errors.New("login timeout expired"),
		workOrders: workOrderRows(2),
	}

	snap, stats := NewExtractor(src).FetchCycleData(context.Background())

	assert.Empty(t, snap.OrderSummaries)
	assert.Len(t, snap.WorkOrders, 2)
	require.Contains(t, stats.SourceErrors, tables.ClassOrderSummaries)
	assert.ErrorIs(t, stats.SourceErrors[tables.ClassOrderSummaries], ErrSourceUnavailable)
	assert.NotContains(t, stats.SourceErrors, tables.ClassWorkOrders)
}

func TestFetchCycleDataRejectsBadRows(t *testing.T) {
	picks := pickRows(2)
	picks = append(picks,
		source.Row{tables.ColCustomerName: "no key"},
		source.Row{tables.ColOrderID: "SO-NEG", tables.ColLineCount: int64(-1)},
	)
	wos := workOrderRows(1)
	wos = append(wos, source.Row{tables.ColWorkOrderID: "  "})

	snap, stats := NewExtractor(&mockSource{picks: picks, workOrders: wos}).FetchCycleData(context.Background())

	assert.Len(t, snap.OrderSummaries, 2)
	assert.Len(t, snap.WorkOrders, 1)
	assert.Equal(t, 2, stats.Rejected[tables.ClassOrderSummaries])
	assert.Equal(t, 1, stats.Rejected[tables.ClassWorkOrders])
}

func TestValidateSnapshot(t *testing.T) {
	snap := testSnapshot(3, 2)
	assert.True(t, ValidateSnapshot(snap).Passed())

	snap.WorkOrders = append(snap.WorkOrders, snap.WorkOrders[0], snap.WorkOrders[1])
	res := ValidateSnapshot(snap)
	assert.False(t, res.Passed())
	assert.Equal(t, 2, res.Duplicates[tables.ClassWorkOrders])
	assert.Zero(t, res.Duplicates[tables.ClassOrderSummaries])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "work_orders")

	empty := ValidateSnapshot(tables.Snapshot{})
	assert.True(t, empty.Empty)
	assert.Len(t, empty.Warnings, 1)
}
