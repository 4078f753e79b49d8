package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/withObsrvr/erp-mirror/internal/metrics"
)

// httpService runs an HTTP handler as a supervised service.
type httpService struct {
	name    string
	address string
	handler http.Handler
	logger  *slog.Logger
}

func (s *httpService) Serve(ctx context.Context) error {
	return metrics.ListenAndServe(ctx, s.address, s.handler, s.logger)
}

func (s *httpService) String() string { return s.name }
