package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Fixture base names read by LocalSource. Each may carry a .zst or .gz suffix.
const (
	OrderSummariesFixture = "open_orders.json"
	WorkOrdersFixture     = "open_work_orders.json"
)

var fixtureSuffixes = []string{"", ".zst", ".gz"}

// LocalSource reads query results from JSON fixture files, for development
// and tests without an ERP.
type LocalSource struct {
	basePath string
	decoder  *Decoder
	logger   *slog.Logger
}

// NewLocalSource creates a new local fixture source.
func NewLocalSource(basePath string) (*LocalSource, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid local path %s: %w", basePath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local path %s is not a directory", basePath)
	}

	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &LocalSource{
		basePath: basePath,
		decoder:  decoder,
		logger:   slog.With("component", "source", "mode", "local"),
	}, nil
}

// OpenOrderSummaries implements Source.
func (s *LocalSource) OpenOrderSummaries(ctx context.Context) ([]Row, error) {
	return s.read(ctx, OrderSummariesFixture)
}

// OpenWorkOrders implements Source.
func (s *LocalSource) OpenWorkOrders(ctx context.Context) ([]Row, error) {
	return s.read(ctx, WorkOrdersFixture)
}

// Close releases resources.
func (s *LocalSource) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	return nil
}

func (s *LocalSource) read(ctx context.Context, base string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.locate(base)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	rows, err := s.decoder.Decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	s.logger.Debug("fixture read", "file", filepath.Base(path), "rows", len(rows))
	return rows, nil
}

func (s *LocalSource) locate(base string) (string, error) {
	for _, suffix := range fixtureSuffixes {
		path := filepath.Join(s.basePath, base+suffix)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("fixture %s not found in %s: %w", base, s.basePath, os.ErrNotExist)
}
