package tables

import (
	"time"
)

// Class identifies a replicated record class. The value doubles as the JSON
// key of the class in the sync payload.
type Class string

const (
	ClassOrderSummaries Class = "picks"
	ClassWorkOrders     Class = "work_orders"
)

// Classes lists the record classes in replication order.
var Classes = []Class{ClassOrderSummaries, ClassWorkOrders}

// TableName returns the mirror table backing the class.
func (c Class) TableName() string {
	switch c {
	case ClassOrderSummaries:
		return "erp_mirror_picks"
	case ClassWorkOrders:
		return "erp_mirror_work_orders"
	default:
		return ""
	}
}

// OrderSummary is one (sales order × handling code) group of open,
// not back-ordered order lines.
type OrderSummary struct {
	OrderID      string  `json:"so_number" parquet:"so_number"`
	CustomerName string  `json:"customer_name" parquet:"customer_name"`
	Address      string  `json:"address" parquet:"address"`
	Reference    string  `json:"reference" parquet:"reference"`
	HandlingCode *string `json:"handling_code" parquet:"handling_code,optional"`
	LineCount    int64   `json:"line_count" parquet:"line_count"`
}

// Key is the natural key of the record within a cycle.
func (o OrderSummary) Key() string {
	if o.HandlingCode == nil {
		return o.OrderID + "|"
	}
	return o.OrderID + "|" + *o.HandlingCode
}

// WorkOrder is an ERP work order not in a terminal status.
type WorkOrder struct {
	WorkOrderID string  `json:"wo_id" parquet:"wo_id"`
	OrderID     string  `json:"so_number" parquet:"so_number"`
	Description string  `json:"description" parquet:"description"`
	ItemNumber  string  `json:"item_number" parquet:"item_number"`
	Status      string  `json:"status" parquet:"status"`
	Qty         float64 `json:"qty" parquet:"qty"`
	Department  *string `json:"department" parquet:"department,optional"`
}

// Key is the natural key of the record within a cycle.
func (w WorkOrder) Key() string {
	return w.WorkOrderID
}

// Snapshot is everything one cycle extracted from the ERP.
type Snapshot struct {
	CycleID        string
	ExtractedAt    time.Time
	OrderSummaries []OrderSummary
	WorkOrders     []WorkOrder
}

// Len returns the number of records of the class.
func (s Snapshot) Len(c Class) int {
	switch c {
	case ClassOrderSummaries:
		return len(s.OrderSummaries)
	case ClassWorkOrders:
		return len(s.WorkOrders)
	default:
		return 0
	}
}

// SchemaVersion returns the version of the record schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"
