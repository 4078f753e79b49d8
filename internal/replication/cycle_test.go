package replication

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/withObsrvr/erp-mirror/internal/checkpoint"
	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/storage"
	"github.com/withObsrvr/erp-mirror/internal/tables"
	"github.com/withObsrvr/erp-mirror/internal/transport"
)

func TestCycleRunMirrorsSourceExactly(t *testing.T) {
	store := mirror.NewMemoryStore()
	src := &mockSource{picks: pickRows(12), workOrders: workOrderRows(30)}
	cycle := NewCycle(NewExtractor(src), NewReplicator(transport.NewDirectWriter(store, 10), nil))

	report, err := cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, report.Result)
	assert.Len(t, store.OrderSummaries(), 12)
	assert.Len(t, store.WorkOrders(), 30)

	// The next cycle shrinks both classes; no leftovers remain.
	src.picks, src.workOrders = pickRows(2), workOrderRows(0)
	report, err = cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, report.Result)
	assert.Len(t, store.OrderSummaries(), 2)
	assert.Empty(t, store.WorkOrders())
}

func TestCycleUnauthorizedDoesNotStopNextCycle(t *testing.T) {
	cloud := mirror.NewMemoryStore()
	srv, _ := newReceiver(t, cloud)
	src := &mockSource{picks: pickRows(2), workOrders: workOrderRows(2)}

	bad := NewCycle(NewExtractor(src), NewReplicator(nil, newAPI(t, srv, "nope", 500)))
	report, err := bad.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleFatal)
	assert.Equal(t, ResultFailure, report.Result)
	assert.ErrorIs(t, report.Failures[0].Err, transport.ErrUnauthorized)

	// The runner stays usable; a later cycle with the right key lands.
	good := NewCycle(NewExtractor(src), NewReplicator(nil, newAPI(t, srv, testKey, 500)))
	report, err = good.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, report.Result)
	assert.Len(t, cloud.WorkOrders(), 2)
}

func TestCycleSourceFailureDegradesOneClass(t *testing.T) {
	store := mirror.NewMemoryStore()
	src := &mockSource{picks: pickRows(4), workOrders: workOrderRows(5)}
	cycle := NewCycle(NewExtractor(src), NewReplicator(transport.NewDirectWriter(store, 0), nil))

	_, err := cycle.Run(context.Background())
	require.NoError(t, err)

	src.woErr = errors.New("deadlock victim")
	src.picks = pickRows(3)
	report, err := cycle.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultSuccess, report.Result)
	require.Contains(t, report.SourceErrors, tables.ClassWorkOrders)
	assert.ErrorIs(t, report.SourceErrors[tables.ClassWorkOrders], ErrSourceUnavailable)
	assert.Len(t, store.OrderSummaries(), 3)
	// The degraded class is empty for this cycle and its reset clears it.
	assert.Empty(t, store.WorkOrders())
}

func TestCycleArchivesAndReplays(t *testing.T) {
	ctx := context.Background()
	archive := storage.NewBlobStore(memblob.OpenBucket(nil), "mem://", "snapshots", storage.ProducerInfo{Version: "test"})
	defer archive.Close()

	store := mirror.NewMemoryStore()
	src := &mockSource{picks: pickRows(3), workOrders: workOrderRows(6)}
	cycle := NewCycle(NewExtractor(src), NewReplicator(transport.NewDirectWriter(store, 0), nil), WithArchive(archive))

	report, err := cycle.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, report.Archive)
	assert.True(t, strings.HasPrefix(report.Archive, "mem://snapshots/"))
	assert.True(t, strings.HasSuffix(report.Archive, report.CycleID))

	ref, err := archive.FindCycle(ctx, report.CycleID, "")
	require.NoError(t, err)
	snap, _, err := archive.ReadSnapshot(ctx, ref)
	require.NoError(t, err)

	// Something else overwrites the mirror; replaying restores the cycle.
	src.picks, src.workOrders = pickRows(1), workOrderRows(1)
	_, err = cycle.Run(ctx)
	require.NoError(t, err)
	require.Len(t, store.WorkOrders(), 1)

	replayed, err := cycle.Replay(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, report.CycleID, replayed.CycleID)
	assert.Len(t, store.OrderSummaries(), 3)
	assert.Len(t, store.WorkOrders(), 6)
}

func TestCycleRecordsCheckpoint(t *testing.T) {
	ctx := context.Background()
	mgr, err := checkpoint.NewManager(checkpoint.Config{Enabled: true, Dir: t.TempDir()})
	require.NoError(t, err)

	store := mirror.NewMemoryStore()
	src := &mockSource{picks: pickRows(2), workOrders: workOrderRows(3)}
	cycle := NewCycle(NewExtractor(src), NewReplicator(transport.NewDirectWriter(store, 0), nil),
		WithCheckpoint(mgr, "plant-1"))

	cp, err := cycle.LoadState(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	report, err := cycle.Run(ctx)
	require.NoError(t, err)

	saved, err := mgr.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plant-1", saved.InstanceID)
	require.NotNil(t, saved.LastCycle)
	assert.Equal(t, report.CycleID, saved.LastCycle.CycleID)
	assert.Equal(t, "success", saved.LastCycle.Result)
	assert.Equal(t, transport.NameDirect, saved.LastCycle.Transport)
	assert.Equal(t, 2, saved.LastCycle.Picks)
	assert.Equal(t, 3, saved.LastCycle.WorkOrders)
	assert.Equal(t, report.CycleID, saved.LastSuccessID)

	// A failed cycle keeps the last success.
	store.FailInsert = func(tables.Class, int) error { return errors.New("read-only transaction") }
	failed, err := cycle.Run(ctx)
	require.ErrorIs(t, err, ErrCycleFatal)

	saved, err = mgr.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, failed.CycleID, saved.LastCycle.CycleID)
	assert.Equal(t, "failure", saved.LastCycle.Result)
	assert.Equal(t, report.CycleID, saved.LastSuccessID)

	// A fresh runner picks the state back up.
	again := NewCycle(NewExtractor(src), NewReplicator(nil, nil), WithCheckpoint(mgr, "plant-1"))
	cp, err = again.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, report.CycleID, cp.LastSuccessID)
	assert.Equal(t, cp, again.State())
	assert.NotSame(t, cp, again.State())
}
