package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/withObsrvr/erp-mirror/internal/checkpoint"
	"github.com/withObsrvr/erp-mirror/internal/config"
	"github.com/withObsrvr/erp-mirror/internal/replication"
	"github.com/withObsrvr/erp-mirror/internal/source"
	"github.com/withObsrvr/erp-mirror/internal/storage"
	"github.com/withObsrvr/erp-mirror/internal/transport"
)

// engine is the wired replication pipeline shared by run, once and replay.
type engine struct {
	src       source.Source
	selection *transport.Selection
	archive   *storage.BlobStore
	cycle     *replication.Cycle
}

func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	if err := cfg.RequireTransport(); err != nil {
		return nil, err
	}

	e := &engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	src, err := source.NewSource(cfg.SourceSettings())
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	e.src = src

	sel, err := transport.Select(ctx, cfg.TransportSettings(), nil)
	if err != nil {
		return nil, fmt.Errorf("select transport: %w", err)
	}
	e.selection = sel

	var opts []replication.CycleOption
	if cfg.Archive.Enabled {
		archive, err := storage.NewSnapshotStore(ctx, cfg.StorageSettings(storage.ProducerInfo{
			Name:    "erp-mirror",
			Version: Version,
			GitSHA:  GitSHA,
		}))
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		e.archive = archive
		opts = append(opts, replication.WithArchive(archive))
	}

	opts = append(opts, replication.WithCheckpoint(checkpointManager(cfg.CheckpointSettings(), logger), instanceID()))

	e.cycle = replication.NewCycle(
		replication.NewExtractor(src),
		replication.NewReplicator(sel.Direct, sel.API),
		opts...,
	)
	if _, err := e.cycle.LoadState(ctx); err != nil {
		logger.Warn("failed to load sync state", "error", err)
	}

	logger.Info("replication engine ready",
		"source", cfg.Source.Mode,
		"transport", sel.Mode(),
		"archive", cfg.Archive.Enabled,
	)
	ok = true
	return e, nil
}

func (e *engine) Close() {
	if e.archive != nil {
		_ = e.archive.Close()
	}
	if e.selection != nil {
		e.selection.Close()
	}
	if e.src != nil {
		_ = e.src.Close()
	}
}

// checkpointManager falls back to the no-op manager when the state directory
// is unusable. The cycle still tracks its state in memory for /healthz.
func checkpointManager(cfg checkpoint.Config, logger *slog.Logger) checkpoint.Manager {
	mgr, err := checkpoint.NewManager(cfg)
	if err == nil {
		return mgr
	}
	logger.Warn("checkpoint files disabled, sync state kept in memory only", "dir", cfg.Dir, "error", err)
	mgr, _ = checkpoint.NewManager(checkpoint.Config{})
	return mgr
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}
