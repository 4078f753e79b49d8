// Package transport delivers planned batches to the mirror, either as direct
// PostgreSQL writes or as authenticated HTTP pushes.
package transport

import (
	"context"
	"errors"

	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// Transport names used in logs, metrics and the sync log.
const (
	NameDirect = "direct"
	NameHTTP   = "http"
)

var (
	// ErrUnauthorized is returned when the mirror endpoint rejects the API key.
	ErrUnauthorized = errors.New("mirror rejected api key")
	// ErrBreakerOpen is returned while the HTTP circuit breaker is open.
	ErrBreakerOpen = errors.New("http circuit breaker open")
	// ErrNoTransport is returned when neither transport can be configured.
	ErrNoTransport = errors.New("no usable transport")
)

// Direct writes whole record classes inside one database transaction each.
type Direct interface {
	WriteClass(ctx context.Context, class tables.Class, batches []tables.Batch) (int64, error)
	RecordSync(ctx context.Context, entry mirror.SyncLogEntry) error
	ChunkSize() int
}

// API sends one batch per call.
type API interface {
	WriteBatch(ctx context.Context, b tables.Batch) error
	ChunkSize() int
}
