package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
)

const openOrderSummariesQuery = `
SELECT
    soh.so_id            AS so_number,
    c.cust_name          AS customer_name,
    cs.address_1         AS address_1,
    cs.city              AS city,
    soh.reference        AS reference,
    ib.handling_code     AS handling_code,
    COUNT(sod.sequence)  AS line_count
FROM so_detail sod
JOIN so_header soh ON soh.so_id = sod.so_id AND sod.system_id = soh.system_id
JOIN item_branch ib ON ib.item_ptr = sod.item_ptr AND sod.system_id = ib.system_id
LEFT JOIN cust c ON soh.cust_key = c.cust_key
JOIN cust_shipto cs ON cs.cust_key = soh.cust_key AND cs.seq_num = soh.shipto_seq_num
WHERE soh.so_status = 'k'
  AND sod.bo = 0
GROUP BY soh.so_id, c.cust_name, cs.address_1, cs.city, soh.reference, ib.handling_code
ORDER BY ib.handling_code, soh.so_id`

const openWorkOrdersQuery = `
SELECT
    wh.wo_id         AS wo_id,
    wh.source_id     AS so_number,
    i.item           AS item_number,
    i.description    AS description,
    wh.wo_status     AS status,
    sod.qty_ordered  AS qty,
    wh.wo_rule       AS department
FROM wo_header wh
LEFT JOIN so_detail sod ON wh.source_id = sod.so_id AND wh.source_seq = sod.sequence
LEFT JOIN item i ON sod.item_ptr = i.item_ptr
WHERE wh.wo_status NOT IN ('Completed', 'Canceled')
ORDER BY wh.wo_id DESC`

// MSSQLSource queries the ERP's SQL Server database.
type MSSQLSource struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewMSSQLSource opens a connection pool for the given sqlserver:// DSN. The
// pool connects lazily, so an unreachable ERP surfaces on the first query.
func NewMSSQLSource(dsn string, timeout time.Duration) (*MSSQLSource, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &MSSQLSource{
		db:      db,
		timeout: timeout,
		logger:  slog.With("component", "source", "mode", "mssql"),
	}, nil
}

// OpenOrderSummaries implements Source.
func (s *MSSQLSource) OpenOrderSummaries(ctx context.Context) ([]Row, error) {
	return s.query(ctx, "open order summaries", openOrderSummariesQuery)
}

// OpenWorkOrders implements Source.
func (s *MSSQLSource) OpenWorkOrders(ctx context.Context) ([]Row, error) {
	return s.query(ctx, "open work orders", openWorkOrdersQuery)
}

// Close releases the connection pool.
func (s *MSSQLSource) Close() error {
	return s.db.Close()
}

func (s *MSSQLSource) query(ctx context.Context, name, query string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", name, err)
	}

	s.logger.Debug("query complete", "query", name, "rows", len(out), "duration", time.Since(start))
	return out, nil
}

// rowScanner is the subset of *sql.Rows used by scanRows.
type rowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRows(rows rowScanner) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
