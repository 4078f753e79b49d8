package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// PickRow is a stored order summary.
type PickRow struct {
	tables.OrderSummary
	SyncedAt time.Time
}

// WorkOrderRow is a stored work order.
type WorkOrderRow struct {
	tables.WorkOrder
	SyncedAt time.Time
}

// MemoryStore is an in-process mirror implementing Store and ClassWriter
// with the same transactional behaviour as PostgresStore.
type MemoryStore struct {
	mu         sync.Mutex
	picks      []PickRow
	workOrders []WorkOrderRow
	syncLog    []SyncLogEntry

	// FailInsert, when set, is consulted before each class insert. Returning
	// an error aborts the surrounding transaction. batch is the 0-based batch
	// index for ReplaceClass and -1 for Apply.
	FailInsert func(class tables.Class, batch int) error
}

// NewMemoryStore creates an empty in-memory mirror.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Apply implements Store.
func (m *MemoryStore) Apply(ctx context.Context, p tables.Payload, reset bool, syncedAt time.Time) (Applied, error) {
	if err := ctx.Err(); err != nil {
		return Applied{}, err
	}
	if !p.Has(tables.ClassOrderSummaries) && !p.Has(tables.ClassWorkOrders) {
		return Applied{}, ErrEmptyPayload
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	picks, wos := m.picks, m.workOrders
	var applied Applied

	if p.Has(tables.ClassOrderSummaries) {
		if err := m.fail(tables.ClassOrderSummaries, -1); err != nil {
			return Applied{}, fmt.Errorf("apply payload: %w", err)
		}
		if reset {
			picks = nil
		}
		picks = appendPicks(picks, p.Picks, syncedAt)
		applied.Picks = len(p.Picks)
	}
	if p.Has(tables.ClassWorkOrders) {
		if err := m.fail(tables.ClassWorkOrders, -1); err != nil {
			return Applied{}, fmt.Errorf("apply payload: %w", err)
		}
		if reset {
			wos = nil
		}
		wos = appendWorkOrders(wos, p.WorkOrders, syncedAt)
		applied.WorkOrders = len(p.WorkOrders)
	}

	m.picks, m.workOrders = picks, wos
	return applied, nil
}

// ReplaceClass implements ClassWriter.
func (m *MemoryStore) ReplaceClass(ctx context.Context, class tables.Class, batches []tables.Batch) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	picks, wos := m.picks, m.workOrders
	var total int64
	for _, b := range batches {
		if b.Class != class {
			return 0, fmt.Errorf("replace %s: batch %s in %s transaction", class, b.ID(), class)
		}
		if err := m.fail(class, b.Index); err != nil {
			return 0, fmt.Errorf("replace %s: batch %s: %w", class, b.ID(), err)
		}
		switch class {
		case tables.ClassOrderSummaries:
			if b.Reset {
				picks = nil
			}
			picks = appendPicks(picks, b.OrderSummaries, b.SyncedAt)
		case tables.ClassWorkOrders:
			if b.Reset {
				wos = nil
			}
			wos = appendWorkOrders(wos, b.WorkOrders, b.SyncedAt)
		}
		total += int64(b.Len())
	}

	m.picks, m.workOrders = picks, wos
	return total, nil
}

// RecordSync implements ClassWriter.
func (m *MemoryStore) RecordSync(_ context.Context, e SyncLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncLog = append(m.syncLog, e)
	return nil
}

// Counts implements Store.
func (m *MemoryStore) Counts(_ context.Context) (map[tables.Class]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[tables.Class]int64{
		tables.ClassOrderSummaries: int64(len(m.picks)),
		tables.ClassWorkOrders:     int64(len(m.workOrders)),
	}, nil
}

// OrderSummaries returns a copy of the stored order summaries.
func (m *MemoryStore) OrderSummaries() []PickRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PickRow(nil), m.picks...)
}

// WorkOrders returns a copy of the stored work orders.
func (m *MemoryStore) WorkOrders() []WorkOrderRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WorkOrderRow(nil), m.workOrders...)
}

// SyncLog returns a copy of the sync log.
func (m *MemoryStore) SyncLog() []SyncLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SyncLogEntry(nil), m.syncLog...)
}

// Close implements Store.
func (m *MemoryStore) Close() {}

func (m *MemoryStore) fail(class tables.Class, batch int) error {
	if m.FailInsert == nil {
		return nil
	}
	return m.FailInsert(class, batch)
}

// The append helpers always copy so a rolled back transaction never shares
// a backing array with committed state.
func appendPicks(dst []PickRow, rows []tables.OrderSummary, at time.Time) []PickRow {
	out := make([]PickRow, 0, len(dst)+len(rows))
	out = append(out, dst...)
	for _, r := range rows {
		out = append(out, PickRow{OrderSummary: r, SyncedAt: at})
	}
	return out
}

func appendWorkOrders(dst []WorkOrderRow, rows []tables.WorkOrder, at time.Time) []WorkOrderRow {
	out := make([]WorkOrderRow, 0, len(dst)+len(rows))
	out = append(out, dst...)
	for _, r := range rows {
		out = append(out, WorkOrderRow{WorkOrder: r, SyncedAt: at})
	}
	return out
}
