package tables

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Payload is the JSON body of a sync request. Absent classes are omitted
// entirely; a present class with no records is sent as an empty list.
type Payload struct {
	Picks      []OrderSummary `json:"picks"`
	WorkOrders []WorkOrder    `json:"work_orders"`
	SyncedAt   *time.Time     `json:"synced_at,omitempty"`
}

// MarshalJSON writes only the classes present in the payload.
func (p Payload) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 3)
	if p.Picks != nil {
		m[string(ClassOrderSummaries)] = p.Picks
	}
	if p.WorkOrders != nil {
		m[string(ClassWorkOrders)] = p.WorkOrders
	}
	if p.SyncedAt != nil {
		m["synced_at"] = p.SyncedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

// Has reports whether the class key was present in the payload.
func (p Payload) Has(c Class) bool {
	switch c {
	case ClassOrderSummaries:
		return p.Picks != nil
	case ClassWorkOrders:
		return p.WorkOrders != nil
	default:
		return false
	}
}

// DecodePayload parses a sync request body. A class sent as null counts as
// absent.
func DecodePayload(data []byte) (Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}

	var p Payload
	if v, ok := raw[string(ClassOrderSummaries)]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &p.Picks); err != nil {
			return Payload{}, fmt.Errorf("decode %s: %w", ClassOrderSummaries, err)
		}
		if p.Picks == nil {
			p.Picks = []OrderSummary{}
		}
	}
	if v, ok := raw[string(ClassWorkOrders)]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &p.WorkOrders); err != nil {
			return Payload{}, fmt.Errorf("decode %s: %w", ClassWorkOrders, err)
		}
		if p.WorkOrders == nil {
			p.WorkOrders = []WorkOrder{}
		}
	}
	if v, ok := raw["synced_at"]; ok && !isNull(v) {
		var t time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return Payload{}, fmt.Errorf("decode synced_at: %w", err)
		}
		p.SyncedAt = &t
	}
	return p, nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
