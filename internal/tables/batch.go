package tables

import (
	"fmt"
	"time"
)

// Chunk splits records into consecutive slices of at most size elements,
// preserving order. A size below 1 yields a single chunk. An empty input
// yields no chunks.
func Chunk[T any](records []T, size int) [][]T {
	if len(records) == 0 {
		return nil
	}
	if size < 1 || size >= len(records) {
		return [][]T{records}
	}

	out := make([][]T, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end:end])
	}
	return out
}

// Batch is a bounded slice of one record class sent in one transport call.
// Exactly one of OrderSummaries / WorkOrders is populated, matching Class.
type Batch struct {
	CycleID  string
	Class    Class
	Index    int  // 0-based position within the class
	Total    int  // number of batches for the class this cycle
	Reset    bool // clear the class before inserting
	SyncedAt time.Time

	OrderSummaries []OrderSummary
	WorkOrders     []WorkOrder
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	if b.Class == ClassWorkOrders {
		return len(b.WorkOrders)
	}
	return len(b.OrderSummaries)
}

// ID identifies the batch in logs, e.g. "work_orders#2/3".
func (b Batch) ID() string {
	return fmt.Sprintf("%s#%d/%d", b.Class, b.Index+1, b.Total)
}

// Mode returns "reset" or "append".
func (b Batch) Mode() string {
	if b.Reset {
		return "reset"
	}
	return "append"
}

// Payload returns the wire payload for the batch. Only the batch's class is
// present; an empty reset batch still carries an empty list so the receiver
// clears the class.
func (b Batch) Payload() Payload {
	p := Payload{}
	if !b.SyncedAt.IsZero() {
		t := b.SyncedAt.UTC()
		p.SyncedAt = &t
	}
	switch b.Class {
	case ClassOrderSummaries:
		p.Picks = b.OrderSummaries
		if p.Picks == nil {
			p.Picks = []OrderSummary{}
		}
	case ClassWorkOrders:
		p.WorkOrders = b.WorkOrders
		if p.WorkOrders == nil {
			p.WorkOrders = []WorkOrder{}
		}
	}
	return p
}

// PlanBatches cuts one class of the snapshot into batches of at most size
// records. The first batch is reset mode and the rest append mode. A class
// with no records still produces one empty reset batch so stale mirror rows
// are cleared.
func PlanBatches(snap Snapshot, class Class, size int) []Batch {
	var batches []Batch
	switch class {
	case ClassOrderSummaries:
		for _, c := range Chunk(snap.OrderSummaries, size) {
			batches = append(batches, Batch{OrderSummaries: c})
		}
	case ClassWorkOrders:
		for _, c := range Chunk(snap.WorkOrders, size) {
			batches = append(batches, Batch{WorkOrders: c})
		}
	default:
		return nil
	}
	if len(batches) == 0 {
		batches = []Batch{{}}
	}

	for i := range batches {
		batches[i].CycleID = snap.CycleID
		batches[i].Class = class
		batches[i].Index = i
		batches[i].Total = len(batches)
		batches[i].Reset = i == 0
		batches[i].SyncedAt = snap.ExtractedAt
	}
	return batches
}

// Stamp sets the sync timestamp of every batch to at, so all rows written
// in one cycle carry the same synced_at.
func Stamp(batches []Batch, at time.Time) []Batch {
	for i := range batches {
		batches[i].SyncedAt = at
	}
	return batches
}

// PlanCycle plans every class of the snapshot in replication order.
func PlanCycle(snap Snapshot, size int) []Batch {
	var out []Batch
	for _, c := range Classes {
		out = append(out, PlanBatches(snap, c, size)...)
	}
	return out
}
