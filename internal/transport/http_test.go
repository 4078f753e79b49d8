package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

const testKey = "k3y"

func testBatch(reset bool) tables.Batch {
	return tables.Batch{
		CycleID:    "cycle-1",
		Class:      tables.ClassWorkOrders,
		Index:      0,
		Total:      1,
		Reset:      reset,
		WorkOrders: []tables.WorkOrder{{WorkOrderID: "1", Status: "Open"}},
	}
}

func newWriter(t *testing.T, url string, mod func(*HTTPConfig)) *APIWriter {
	t.Helper()
	cfg := HTTPConfig{
		URL:           url,
		APIKey:        testKey,
		Timeout:       2 * time.Second,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	w, err := NewAPIWriter(cfg)
	require.NoError(t, err)
	return w
}

func TestWriteBatchAgainstReceiver(t *testing.T) {
	store := mirror.NewMemoryStore()
	srv := httptest.NewServer(mirror.NewHandler(store, testKey).Routes())
	defer srv.Close()

	w := newWriter(t, srv.URL+mirror.SyncPath, func(c *HTTPConfig) { c.Compress = true })

	require.NoError(t, w.WriteBatch(context.Background(), testBatch(true)))
	require.NoError(t, w.WriteBatch(context.Background(), testBatch(false)))
	assert.Len(t, store.WorkOrders(), 2)

	require.NoError(t, w.WriteBatch(context.Background(), testBatch(true)))
	assert.Len(t, store.WorkOrders(), 1)
}

func TestWriteBatchSendsContract(t *testing.T) {
	var (
		mu  sync.Mutex
		got *http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Clone(context.Background())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newWriter(t, srv.URL+"/api/sync", nil)
	require.NoError(t, w.WriteBatch(context.Background(), testBatch(false)))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "false", got.URL.Query().Get("reset"))
	assert.Equal(t, testKey, got.Header.Get(mirror.HeaderAPIKey))
	assert.Equal(t, "cycle-1", got.Header.Get(mirror.HeaderCycle))
	assert.Equal(t, "work_orders#1/1", got.Header.Get(mirror.HeaderBatch))
}

func TestWriteBatchUnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	receiver := mirror.NewHandler(mirror.NewMemoryStore(), "other").Routes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		receiver.ServeHTTP(w, r)
	}))
	defer srv.Close()

	w := newWriter(t, srv.URL+mirror.SyncPath, nil)
	err := w.WriteBatch(context.Background(), testBatch(true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWriteBatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "db busy", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newWriter(t, srv.URL, nil)
	require.NoError(t, w.WriteBatch(context.Background(), testBatch(true)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWriteBatchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newWriter(t, srv.URL, func(c *HTTPConfig) { c.MaxRetries = 1 })
	err := w.WriteBatch(context.Background(), testBatch(true))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWriteBatchBadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := newWriter(t, srv.URL, nil)
	require.Error(t, w.WriteBatch(context.Background(), testBatch(true)))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWriteBatchTimeoutFails(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w := newWriter(t, srv.URL, func(c *HTTPConfig) { c.Timeout = 50 * time.Millisecond })
	assert.Error(t, w.WriteBatch(context.Background(), testBatch(true)))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := newWriter(t, srv.URL, func(c *HTTPConfig) {
		c.BreakerFailures = 2
		c.BreakerTimeout = time.Hour
	})

	for i := 0; i < 2; i++ {
		err := w.WriteBatch(context.Background(), testBatch(true))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrBreakerOpen))
	}

	err := w.WriteBatch(context.Background(), testBatch(true))
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewAPIWriterDefaults(t *testing.T) {
	_, err := NewAPIWriter(HTTPConfig{})
	assert.Error(t, err)

	w, err := NewAPIWriter(HTTPConfig{URL: "http://localhost/api/sync"})
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIChunkSize, w.ChunkSize())
}
