package replication

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/source"
	"github.com/withObsrvr/erp-mirror/internal/tables"
	"github.com/withObsrvr/erp-mirror/internal/transport"
)

const testKey = "shared-secret"

// mockSource serves canned rows.
type mockSource struct {
	mu         sync.Mutex
	picks      []source.Row
	workOrders []source.Row
	picksErr   error
	woErr      error
	calls      int
}

func (m *mockSource) OpenOrderSummaries(ctx context.Context) ([]source.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.picksErr != nil {
		return nil, m.picksErr
	}
	return m.picks, nil
}

func (m *mockSource) OpenWorkOrders(ctx context.Context) ([]source.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.woErr != nil {
		return nil, m.woErr
	}
	return m.workOrders, nil
}

func (m *mockSource) Close() error { return nil }

func pickRows(n int) []source.Row {
	rows := make([]source.Row, n)
	for i := range rows {
		rows[i] = source.Row{
			tables.ColOrderID:      fmt.Sprintf("SO-%04d", i),
			tables.ColCustomerName: "Acme",
			tables.ColAddressLine:  "1 Main St",
			tables.ColCity:         "Springfield",
			tables.ColReference:    "PO-1",
			tables.ColHandlingCode: "UPS",
			tables.ColLineCount:    int64(i%5 + 1),
		}
	}
	return rows
}

func workOrderRows(n int) []source.Row {
	rows := make([]source.Row, n)
	for i := range rows {
		rows[i] = source.Row{
			tables.ColWorkOrderID: fmt.Sprintf("WO-%05d", i),
			tables.ColOrderID:     "SO-0001",
			tables.ColDescription: "Bracket",
			tables.ColItemNumber:  "ITEM-9",
			tables.ColStatus:      "Released",
			tables.ColQty:         float64(i%3 + 1),
			tables.ColDepartment:  "WELD",
		}
	}
	return rows
}

func testSnapshot(picks, workOrders int) tables.Snapshot {
	snap := tables.Snapshot{
		CycleID:     fmt.Sprintf("cycle-%d-%d", picks, workOrders),
		ExtractedAt: time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC),
	}
	for _, r := range pickRows(picks) {
		o, err := tables.NormalizeOrderSummary(r)
		if err != nil {
			panic(err)
		}
		snap.OrderSummaries = append(snap.OrderSummaries, o)
	}
	for _, r := range workOrderRows(workOrders) {
		w, err := tables.NormalizeWorkOrder(r)
		if err != nil {
			panic(err)
		}
		snap.WorkOrders = append(snap.WorkOrders, w)
	}
	return snap
}

// sentRequest is what the receiver saw for one POST.
type sentRequest struct {
	Reset      string
	Batch      string
	Picks      int
	WorkOrders int
	HasPicks   bool
	HasWOs     bool
}

// recordingReceiver wraps the real sync handler and records every request.
type recordingReceiver struct {
	mu       sync.Mutex
	requests []sentRequest
	next     http.Handler
}

func (rr *recordingReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		req := sentRequest{
			Reset: r.URL.Query().Get("reset"),
			Batch: r.Header.Get(mirror.HeaderBatch),
		}
		if p, err := tables.DecodePayload(body); err == nil {
			req.Picks, req.WorkOrders = len(p.Picks), len(p.WorkOrders)
			req.HasPicks, req.HasWOs = p.Has(tables.ClassOrderSummaries), p.Has(tables.ClassWorkOrders)
		}

		rr.mu.Lock()
		rr.requests = append(rr.requests, req)
		rr.mu.Unlock()
	}
	rr.next.ServeHTTP(w, r)
}

func (rr *recordingReceiver) Requests() []sentRequest {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return append([]sentRequest(nil), rr.requests...)
}

// newReceiver starts an HTTP mirror endpoint backed by store.
func newReceiver(t *testing.T, store *mirror.MemoryStore) (*httptest.Server, *recordingReceiver) {
	t.Helper()
	rr := &recordingReceiver{next: mirror.NewHandler(store, testKey).Routes()}
	srv := httptest.NewServer(rr)
	t.Cleanup(srv.Close)
	return srv, rr
}

func newAPI(t *testing.T, srv *httptest.Server, key string, chunk int) *transport.APIWriter {
	t.Helper()
	w, err := transport.NewAPIWriter(transport.HTTPConfig{
		URL:           srv.URL + mirror.SyncPath,
		APIKey:        key,
		Timeout:       2 * time.Second,
		ChunkSize:     chunk,
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func orderIDs(rows []mirror.PickRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.OrderID
	}
	return out
}

func workOrderIDs(rows []mirror.WorkOrderRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.WorkOrderID
	}
	return out
}
