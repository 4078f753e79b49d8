package source

import (
	"context"
	"errors"
	"time"
)

// Row is one raw result row keyed by column name. Values are whatever the
// driver or fixture decoder produced; typing happens at the extraction
// boundary.
type Row map[string]any

// Source answers the two read-only queries a replication cycle needs.
type Source interface {
	// OpenOrderSummaries returns open, not back-ordered order lines grouped
	// by order and handling code.
	OpenOrderSummaries(ctx context.Context) ([]Row, error)
	// OpenWorkOrders returns work orders not in a terminal status.
	OpenWorkOrders(ctx context.Context) ([]Row, error)
	Close() error
}

type SourceConfig struct {
	Mode         string
	DSN          string
	LocalDir     string
	QueryTimeout time.Duration
}

var (
	ErrInvalidSourceMode = errors.New("invalid source mode")
	ErrMissingDSN        = errors.New("source dsn is required for mssql mode")
)

// NewSource constructs a source based on the configured mode.
func NewSource(cfg SourceConfig) (Source, error) {
	switch cfg.Mode {
	case "mssql":
		if cfg.DSN == "" {
			return nil, ErrMissingDSN
		}
		return NewMSSQLSource(cfg.DSN, cfg.QueryTimeout)
	case "local":
		return NewLocalSource(cfg.LocalDir)
	default:
		return nil, ErrInvalidSourceMode
	}
}
