package transport

import (
	"context"
	"fmt"

	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// DefaultDirectChunkSize bounds rows per COPY inside a class transaction.
const DefaultDirectChunkSize = 5000

// DirectWriter is the Direct-Write transport.
type DirectWriter struct {
	store     mirror.ClassWriter
	chunkSize int
}

// NewDirectWriter wraps a mirror class writer.
func NewDirectWriter(store mirror.ClassWriter, chunkSize int) *DirectWriter {
	if chunkSize < 1 {
		chunkSize = DefaultDirectChunkSize
	}
	return &DirectWriter{store: store, chunkSize: chunkSize}
}

// WriteClass writes every batch of the class in one transaction.
func (d *DirectWriter) WriteClass(ctx context.Context, class tables.Class, batches []tables.Batch) (int64, error) {
	n, err := d.store.ReplaceClass(ctx, class, batches)
	if err != nil {
		return 0, fmt.Errorf("direct write %s: %w", class, err)
	}
	return n, nil
}

// RecordSync appends an entry to the mirror's sync log.
func (d *DirectWriter) RecordSync(ctx context.Context, entry mirror.SyncLogEntry) error {
	return d.store.RecordSync(ctx, entry)
}

// ChunkSize returns the configured rows per COPY.
func (d *DirectWriter) ChunkSize() int { return d.chunkSize }
