package mirror

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/withObsrvr/erp-mirror/internal/metrics"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// Header names of the sync contract.
const (
	HeaderAPIKey = "X-API-KEY"
	HeaderCycle  = "X-Sync-Cycle"
	HeaderBatch  = "X-Sync-Batch"
)

// SyncPath is the route the sync endpoint is mounted on.
const SyncPath = "/api/sync"

const maxBodyBytes = 64 << 20

// Handler is the receiving end of the HTTP sync contract.
type Handler struct {
	store  Store
	apiKey string
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a sync receiver backed by store. Requests must carry
// apiKey exactly in the X-API-KEY header.
func NewHandler(store Store, apiKey string) *Handler {
	return &Handler{
		store:  store,
		apiKey: apiKey,
		logger: slog.With("component", "receiver"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes returns the receiver router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Post(SyncPath, h.sync)
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Counts(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(
		"request_id", chimiddleware.GetReqID(r.Context()),
		"cycle", r.Header.Get(HeaderCycle),
		"batch", r.Header.Get(HeaderBatch),
	)

	key := r.Header.Get(HeaderAPIKey)
	if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
		logger.Warn("rejected sync request", "reason", "bad api key", "remote", r.RemoteAddr)
		h.observe("unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	reset := true
	if v := r.URL.Query().Get("reset"); v != "" {
		reset = strings.EqualFold(v, "true")
	}

	body, err := readBody(r)
	if err != nil {
		logger.Warn("unreadable sync body", "error", err)
		h.observe("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	payload, err := tables.DecodePayload(body)
	if err != nil || (!payload.Has(tables.ClassOrderSummaries) && !payload.Has(tables.ClassWorkOrders)) {
		if err == nil {
			err = ErrEmptyPayload
		}
		logger.Warn("invalid sync payload", "error", err)
		h.observe("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No data provided"})
		return
	}

	syncedAt := h.now()
	if payload.SyncedAt != nil {
		syncedAt = payload.SyncedAt.UTC()
	}

	applied, err := h.store.Apply(r.Context(), payload, reset, syncedAt)
	if err != nil {
		logger.Error("sync apply failed", "error", err, "reset", reset)
		h.observe("error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	logger.Info("sync applied",
		"reset", reset,
		"picks", applied.Picks,
		"work_orders", applied.WorkOrders,
	)
	h.observe("success")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"message":     "Data synced successfully",
		"picks":       applied.Picks,
		"work_orders": applied.WorkOrders,
	})
}

func (h *Handler) observe(outcome string) {
	if m := metrics.Get(); m != nil {
		m.RecordReceived(outcome)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.New("invalid gzip body")
		}
		defer zr.Close()
		reader = io.LimitReader(zr, maxBodyBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
