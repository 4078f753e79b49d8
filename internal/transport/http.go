package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/withObsrvr/erp-mirror/internal/metrics"
	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// DefaultAPIChunkSize is the number of records per HTTP batch.
const DefaultAPIChunkSize = 500

type HTTPConfig struct {
	URL             string
	APIKey          string
	Timeout         time.Duration
	ChunkSize       int
	MaxRetries      int
	RetryInterval   time.Duration // initial backoff interval
	Compress        bool
	RatePerSecond   float64 // 0 disables pacing
	BreakerFailures uint32  // consecutive failures that open the breaker; 0 disables it
	BreakerTimeout  time.Duration
}

// StatusError is a non-2xx response from the mirror endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// APIWriter is the HTTP-API transport. It posts one batch per request.
type APIWriter struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewAPIWriter creates a new HTTP writer.
func NewAPIWriter(cfg HTTPConfig) (*APIWriter, error) {
	if cfg.URL == "" {
		return nil, errors.New("api url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultAPIChunkSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}

	w := &APIWriter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: slog.With("component", "transport", "transport", NameHTTP),
	}

	if cfg.RatePerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	if cfg.BreakerFailures > 0 {
		w.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "mirror-http",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				w.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				if m := metrics.Get(); m != nil {
					m.SetBreakerOpen(to == gobreaker.StateOpen)
				}
			},
		})
	}

	return w, nil
}

// ChunkSize returns the configured records per request.
func (w *APIWriter) ChunkSize() int { return w.cfg.ChunkSize }

// WriteBatch sends one batch, retrying server errors.
func (w *APIWriter) WriteBatch(ctx context.Context, b tables.Batch) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	if w.breaker == nil {
		return w.postWithRetry(ctx, b)
	}

	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.postWithRetry(ctx, b)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}

// postWithRetry retries only responses that mark themselves retryable.
// Transport errors and timeouts fail the batch immediately.
func (w *APIWriter) postWithRetry(ctx context.Context, b tables.Batch) error {
	body, err := w.encode(b)
	if err != nil {
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.RetryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(w.cfg.MaxRetries, 0))), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := w.post(ctx, b, body)
		var se *StatusError
		if err == nil || (errors.As(err, &se) && se.Retryable()) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, delay time.Duration) {
		w.logger.Warn("batch attempt failed, retrying",
			"batch", b.ID(), "attempt", attempt, "error", err, "delay", delay)
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts("http_post")
		}
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("post batch %s: %w", b.ID(), err)
	}
	return nil
}

func (w *APIWriter) encode(b tables.Batch) ([]byte, error) {
	body, err := json.Marshal(b.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal batch %s: %w", b.ID(), err)
	}
	if !w.cfg.Compress {
		return body, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("compress batch %s: %w", b.ID(), err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress batch %s: %w", b.ID(), err)
	}
	return buf.Bytes(), nil
}

// post sends a single POST request to the mirror endpoint.
func (w *APIWriter) post(ctx context.Context, b tables.Batch, body []byte) error {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("reset", strconv.FormatBool(b.Reset))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(mirror.HeaderAPIKey, w.cfg.APIKey)
	req.Header.Set(mirror.HeaderCycle, b.CycleID)
	req.Header.Set(mirror.HeaderBatch, b.ID())
	if w.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		w.logger.Debug("batch accepted", "batch", b.ID(), "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrUnauthorized, se)
	}
	return se
}
