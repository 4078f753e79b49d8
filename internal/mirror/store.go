// Package mirror holds the mirror side of replication: the PostgreSQL and
// in-memory mirror stores and the HTTP sync receiver.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/withObsrvr/erp-mirror/internal/tables"
)

var ErrEmptyPayload = errors.New("payload carries no record class")

// Store applies sync payloads to the mirror tables.
type Store interface {
	// Apply writes every class present in the payload in one transaction.
	// With reset, each present class is cleared before its rows are inserted.
	Apply(ctx context.Context, p tables.Payload, reset bool, syncedAt time.Time) (Applied, error)
	// Counts returns the current row count per class.
	Counts(ctx context.Context) (map[tables.Class]int64, error)
	Close()
}

// ClassWriter is the bulk write surface used by the direct transport.
type ClassWriter interface {
	// ReplaceClass writes all batches of one class in a single transaction.
	// Reset batches clear the class first. Nothing is visible unless every
	// batch succeeds.
	ReplaceClass(ctx context.Context, class tables.Class, batches []tables.Batch) (int64, error)
	// RecordSync appends an entry to the sync log.
	RecordSync(ctx context.Context, entry SyncLogEntry) error
}

// Applied reports rows inserted per class by one Apply call.
type Applied struct {
	Picks      int `json:"picks"`
	WorkOrders int `json:"work_orders"`
}

// SyncLogEntry is one row of erp_mirror_sync_log.
type SyncLogEntry struct {
	CycleID     string
	Transport   string
	Result      string
	Picks       int
	WorkOrders  int
	StartedAt   time.Time
	CompletedAt time.Time
}
