package tables

import (
	"errors"
	"fmt"

	"github.com/withObsrvr/erp-mirror/internal/util"
)

// Placeholders written instead of nulls; the mirror consumer does not handle
// nulls outside the nullable classification columns.
const (
	UnknownValue = "Unknown"
	NoAddress    = "No Address"
)

// ErrMissingKey is returned when a source row lacks its natural key.
var ErrMissingKey = errors.New("missing natural key")

// Raw column names produced by the source queries and local fixtures.
const (
	ColOrderID      = "so_number"
	ColCustomerName = "customer_name"
	ColAddressLine  = "address_1"
	ColCity         = "city"
	ColReference    = "reference"
	ColHandlingCode = "handling_code"
	ColLineCount    = "line_count"

	ColWorkOrderID = "wo_id"
	ColDescription = "description"
	ColItemNumber  = "item_number"
	ColStatus      = "status"
	ColQty         = "qty"
	ColDepartment  = "department"
)

// NormalizeOrderSummary converts a raw source row into an OrderSummary.
func NormalizeOrderSummary(row map[string]any) (OrderSummary, error) {
	id, ok := util.TrimmedString(row[ColOrderID])
	if !ok || id == "" {
		return OrderSummary{}, fmt.Errorf("order summary: %w (%s)", ErrMissingKey, ColOrderID)
	}

	lines, _, err := util.Int64(row[ColLineCount])
	if err != nil {
		return OrderSummary{}, fmt.Errorf("order summary %s: %s: %w", id, ColLineCount, err)
	}
	if lines < 0 {
		return OrderSummary{}, fmt.Errorf("order summary %s: negative %s %d", id, ColLineCount, lines)
	}

	return OrderSummary{
		OrderID:      id,
		CustomerName: stringOr(row[ColCustomerName], UnknownValue),
		Address:      address(row[ColAddressLine], row[ColCity]),
		Reference:    stringOr(row[ColReference], ""),
		HandlingCode: nullableString(row[ColHandlingCode]),
		LineCount:    lines,
	}, nil
}

// NormalizeWorkOrder converts a raw source row into a WorkOrder.
func NormalizeWorkOrder(row map[string]any) (WorkOrder, error) {
	id, ok := util.TrimmedString(row[ColWorkOrderID])
	if !ok || id == "" {
		return WorkOrder{}, fmt.Errorf("work order: %w (%s)", ErrMissingKey, ColWorkOrderID)
	}

	qty, _, err := util.Float64(row[ColQty])
	if err != nil {
		return WorkOrder{}, fmt.Errorf("work order %s: %s: %w", id, ColQty, err)
	}

	return WorkOrder{
		WorkOrderID: id,
		OrderID:     stringOr(row[ColOrderID], ""),
		Description: stringOr(row[ColDescription], ""),
		ItemNumber:  stringOr(row[ColItemNumber], ""),
		Status:      stringOr(row[ColStatus], UnknownValue),
		Qty:         qty,
		Department:  nullableString(row[ColDepartment]),
	}, nil
}

func stringOr(v any, def string) string {
	s, ok := util.TrimmedString(v)
	if !ok || s == "" {
		return def
	}
	return s
}

func nullableString(v any) *string {
	s, ok := util.TrimmedString(v)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func address(line, city any) string {
	l := stringOr(line, "")
	if l == "" {
		return NoAddress
	}
	c := stringOr(city, "")
	if c == "" {
		return l
	}
	return l + ", " + c
}
