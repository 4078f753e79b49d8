package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/erp-mirror/internal/mirror"
)

// DirectOpener connects to the mirror database. The returned close func
// releases the connection.
type DirectOpener func(ctx context.Context, cfg mirror.PostgresConfig) (mirror.ClassWriter, func(), error)

// OpenPostgres is the production DirectOpener.
func OpenPostgres(ctx context.Context, cfg mirror.PostgresConfig) (mirror.ClassWriter, func(), error) {
	store, err := mirror.NewPostgresStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

type SelectConfig struct {
	Mirror          mirror.PostgresConfig
	DirectChunkSize int
	HTTP            HTTPConfig
}

// Selection is the transport pair chosen at process start. Direct is nil
// when the mirror database is not configured or not reachable; API is nil
// when no endpoint is configured.
type Selection struct {
	Direct Direct
	API    API
	close  func()
}

// Mode names the preferred transport.
func (s *Selection) Mode() string {
	if s.Direct != nil {
		return NameDirect
	}
	return NameHTTP
}

// Close releases the direct connection, if any.
func (s *Selection) Close() {
	if s.close != nil {
		s.close()
	}
}

// Select picks the transport for the process lifetime. A configured and
// reachable mirror database selects direct writes; otherwise the HTTP
// transport is used. open may be nil to use OpenPostgres.
func Select(ctx context.Context, cfg SelectConfig, open DirectOpener) (*Selection, error) {
	logger := slog.With("component", "transport")
	if open == nil {
		open = OpenPostgres
	}

	sel := &Selection{}

	if cfg.HTTP.URL != "" {
		api, err := NewAPIWriter(cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		sel.API = api
	}

	if cfg.Mirror.DSN != "" {
		store, closeFn, err := open(ctx, cfg.Mirror)
		if err != nil {
			logger.Warn("mirror database unavailable, using http transport", "error", err)
		} else {
			sel.Direct = NewDirectWriter(store, cfg.DirectChunkSize)
			sel.close = closeFn
		}
	}

	if sel.Direct == nil && sel.API == nil {
		return nil, ErrNoTransport
	}

	logger.Info("transport selected", "mode", sel.Mode(), "http_fallback", sel.API != nil)
	return sel, nil
}
