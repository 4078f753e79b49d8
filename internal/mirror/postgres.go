package mirror

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/erp-mirror/internal/tables"
)

//go:embed schema.sql
var schemaSQL string

var (
	pickColumns = []string{
		"so_number", "customer_name", "address", "reference",
		"handling_code", "line_count", "synced_at",
	}
	workOrderColumns = []string{
		"wo_id", "so_number", "description", "item_number",
		"status", "qty", "department", "synced_at",
	}
)

type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	ConnectTimeout time.Duration
	InitSchema     bool
}

// PostgresStore implements Store and ClassWriter on PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to the mirror database and pings it within the
// connect timeout.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: slog.With("component", "mirror"),
	}

	if cfg.InitSchema {
		if err := s.initSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	s.logger.Info("connected to mirror database", "max_conns", poolCfg.MaxConns)
	return s, nil
}

// initSchema creates the erp_mirror_* tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Apply implements Store.
func (s *PostgresStore) Apply(ctx context.Context, p tables.Payload, reset bool, syncedAt time.Time) (Applied, error) {
	if !p.Has(tables.ClassOrderSummaries) && !p.Has(tables.ClassWorkOrders) {
		return Applied{}, ErrEmptyPayload
	}

	var applied Applied
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if p.Has(tables.ClassOrderSummaries) {
			if reset {
				if err := clearClass(ctx, tx, tables.ClassOrderSummaries); err != nil {
					return err
				}
			}
			n, err := copyOrderSummaries(ctx, tx, p.Picks, syncedAt)
			if err != nil {
				return err
			}
			applied.Picks = int(n)
		}
		if p.Has(tables.ClassWorkOrders) {
			if reset {
				if err := clearClass(ctx, tx, tables.ClassWorkOrders); err != nil {
					return err
				}
			}
			n, err := copyWorkOrders(ctx, tx, p.WorkOrders, syncedAt)
			if err != nil {
				return err
			}
			applied.WorkOrders = int(n)
		}
		return nil
	})
	if err != nil {
		return Applied{}, fmt.Errorf("apply payload: %w", err)
	}
	return applied, nil
}

// ReplaceClass implements ClassWriter.
func (s *PostgresStore) ReplaceClass(ctx context.Context, class tables.Class, batches []tables.Batch) (int64, error) {
	var total int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, b := range batches {
			if b.Class != class {
				return fmt.Errorf("batch %s in %s transaction", b.ID(), class)
			}
			if b.Reset {
				if err := clearClass(ctx, tx, class); err != nil {
					return err
				}
			}

			var (
				n   int64
				err error
			)
			switch class {
			case tables.ClassOrderSummaries:
				n, err = copyOrderSummaries(ctx, tx, b.OrderSummaries, b.SyncedAt)
			case tables.ClassWorkOrders:
				n, err = copyWorkOrders(ctx, tx, b.WorkOrders, b.SyncedAt)
			}
			if err != nil {
				return fmt.Errorf("batch %s: %w", b.ID(), err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replace %s: %w", class, err)
	}
	return total, nil
}

// RecordSync implements ClassWriter.
func (s *PostgresStore) RecordSync(ctx context.Context, e SyncLogEntry) error {
	query := `
		INSERT INTO erp_mirror_sync_log (
			cycle_id, transport, result, picks, work_orders, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		e.CycleID,
		e.Transport,
		e.Result,
		e.Picks,
		e.WorkOrders,
		e.StartedAt,
		e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

// Counts implements Store.
func (s *PostgresStore) Counts(ctx context.Context) (map[tables.Class]int64, error) {
	out := make(map[tables.Class]int64, len(tables.Classes))
	for _, c := range tables.Classes {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+c.TableName()).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", c, err)
		}
		out[c] = n
	}
	return out, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func clearClass(ctx context.Context, tx pgx.Tx, class tables.Class) error {
	if _, err := tx.Exec(ctx, "DELETE FROM "+class.TableName()); err != nil {
		return fmt.Errorf("clear %s: %w", class, err)
	}
	return nil
}

func copyOrderSummaries(ctx context.Context, tx pgx.Tx, rows []tables.OrderSummary, syncedAt time.Time) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.OrderID, r.CustomerName, r.Address, r.Reference, r.HandlingCode, r.LineCount, syncedAt}, nil
	})
	n, err := tx.CopyFrom(ctx, pgx.Identifier{tables.ClassOrderSummaries.TableName()}, pickColumns, src)
	if err != nil {
		return 0, fmt.Errorf("copy %s: %w", tables.ClassOrderSummaries, err)
	}
	return n, nil
}

func copyWorkOrders(ctx context.Context, tx pgx.Tx, rows []tables.WorkOrder, syncedAt time.Time) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.WorkOrderID, r.OrderID, r.Description, r.ItemNumber, r.Status, r.Qty, r.Department, syncedAt}, nil
	})
	n, err := tx.CopyFrom(ctx, pgx.Identifier{tables.ClassWorkOrders.TableName()}, workOrderColumns, src)
	if err != nil {
		return 0, fmt.Errorf("copy %s: %w", tables.ClassWorkOrders, err)
	}
	return n, nil
}
