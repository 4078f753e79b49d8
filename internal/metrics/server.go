package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports process health. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

// Server serves /metrics and /healthz. It implements suture.Service.
type Server struct {
	address  string
	gatherer prometheus.Gatherer
	health   HealthFunc
	logger   *slog.Logger
}

// NewServer creates a metrics server. A nil gatherer uses the default
// registry; a nil health func always reports healthy.
func NewServer(address string, gatherer prometheus.Gatherer, health HealthFunc) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		address:  address,
		gatherer: gatherer,
		health:   health,
		logger:   slog.With("component", "metrics"),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return ListenAndServe(ctx, s.address, s.Handler(), s.logger)
}

func (s *Server) String() string { return "metrics-server" }

// ListenAndServe runs an HTTP server on address until ctx is cancelled, then
// shuts it down gracefully.
func ListenAndServe(ctx context.Context, address string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "address", address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
		return ctx.Err()
	}
}
