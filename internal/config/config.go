// Package config loads erp-mirror configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"time"

	"github.com/withObsrvr/erp-mirror/internal/checkpoint"
	"github.com/withObsrvr/erp-mirror/internal/logging"
	"github.com/withObsrvr/erp-mirror/internal/mirror"
	"github.com/withObsrvr/erp-mirror/internal/scheduler"
	"github.com/withObsrvr/erp-mirror/internal/source"
	"github.com/withObsrvr/erp-mirror/internal/storage"
	"github.com/withObsrvr/erp-mirror/internal/transport"
)

type Config struct {
	Source     SourceConfig     `koanf:"source" yaml:"source"`
	Mirror     MirrorConfig     `koanf:"mirror" yaml:"mirror"`
	API        APIConfig        `koanf:"api" yaml:"api"`
	Sync       SyncConfig       `koanf:"sync" yaml:"sync"`
	Archive    ArchiveConfig    `koanf:"archive" yaml:"archive"`
	Checkpoint CheckpointConfig `koanf:"checkpoint" yaml:"checkpoint"`
	Metrics    MetricsConfig    `koanf:"metrics" yaml:"metrics"`
	Receiver   ReceiverConfig   `koanf:"receiver" yaml:"receiver"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
}

// SourceConfig selects where ERP rows are read from.
type SourceConfig struct {
	Mode         string        `koanf:"mode" yaml:"mode" validate:"oneof=mssql local"`
	DSN          string        `koanf:"dsn" yaml:"dsn" validate:"required_if=Mode mssql"`
	LocalDir     string        `koanf:"local_dir" yaml:"local_dir" validate:"required_if=Mode local"`
	QueryTimeout time.Duration `koanf:"query_timeout" yaml:"query_timeout" validate:"gt=0"`
}

// MirrorConfig configures the Direct-Write transport.
type MirrorConfig struct {
	DSN            string        `koanf:"dsn" yaml:"dsn"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout" validate:"gt=0"`
	InitSchema     bool          `koanf:"init_schema" yaml:"init_schema"`
	ChunkSize      int           `koanf:"chunk_size" yaml:"chunk_size" validate:"min=1"`
	MaxConns       int32         `koanf:"max_conns" yaml:"max_conns" validate:"min=1"`
}

// APIConfig configures the HTTP-API transport.
type APIConfig struct {
	URL             string        `koanf:"url" yaml:"url" validate:"omitempty,url"`
	Key             string        `koanf:"key" yaml:"key" validate:"required_with=URL"`
	Timeout         time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	ChunkSize       int           `koanf:"chunk_size" yaml:"chunk_size" validate:"min=1"`
	MaxRetries      int           `koanf:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`
	Compress        bool          `koanf:"compress" yaml:"compress"`
	RatePerSecond   float64       `koanf:"rate_per_second" yaml:"rate_per_second" validate:"min=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" yaml:"breaker_timeout"`
}

// SyncConfig configures the scheduler.
type SyncConfig struct {
	Interval   time.Duration `koanf:"interval" yaml:"interval" validate:"gte=1s"`
	RunOnStart bool          `koanf:"run_on_start" yaml:"run_on_start"`
}

// ArchiveConfig configures snapshot archiving.
type ArchiveConfig struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	Backend    string `koanf:"backend" yaml:"backend" validate:"oneof=local gcs s3 mem"`
	Bucket     string `koanf:"bucket" yaml:"bucket"`
	Prefix     string `koanf:"prefix" yaml:"prefix"`
	LocalDir   string `koanf:"local_dir" yaml:"local_dir"`
	S3Endpoint string `koanf:"s3_endpoint" yaml:"s3_endpoint"`
	S3Region   string `koanf:"s3_region" yaml:"s3_region"`
}

// CheckpointConfig configures the persisted sync state.
type CheckpointConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Dir     string `koanf:"dir" yaml:"dir" validate:"required_if=Enabled true"`
}

// MetricsConfig configures the metrics and health endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Address string `koanf:"address" yaml:"address" validate:"required_if=Enabled true"`
}

// ReceiverConfig configures `erp-mirror serve`.
type ReceiverConfig struct {
	Address string `koanf:"address" yaml:"address"`
	APIKey  string `koanf:"api_key" yaml:"api_key"`
	Store   string `koanf:"store" yaml:"store" validate:"oneof=postgres memory"`
	DSN     string `koanf:"dsn" yaml:"dsn"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=json text"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Source: SourceConfig{
			Mode:         "mssql",
			LocalDir:     "./testdata",
			QueryTimeout: 30 * time.Second,
		},
		Mirror: MirrorConfig{
			ConnectTimeout: 10 * time.Second,
			InitSchema:     true,
			ChunkSize:      transport.DefaultDirectChunkSize,
			MaxConns:       4,
		},
		API: APIConfig{
			Timeout:         30 * time.Second,
			ChunkSize:       transport.DefaultAPIChunkSize,
			MaxRetries:      3,
			Compress:        false,
			BreakerFailures: 5,
			BreakerTimeout:  time.Minute,
		},
		Sync: SyncConfig{
			Interval:   scheduler.DefaultInterval,
			RunOnStart: true,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Backend:  "local",
			Prefix:   "snapshots",
			LocalDir: "./data/archive",
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Dir:     "./data",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
		},
		Receiver: ReceiverConfig{
			Address: ":8080",
			Store:   "postgres",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SourceSettings returns the source package configuration.
func (c *Config) SourceSettings() source.SourceConfig {
	return source.SourceConfig{
		Mode:         c.Source.Mode,
		DSN:          c.Source.DSN,
		LocalDir:     c.Source.LocalDir,
		QueryTimeout: c.Source.QueryTimeout,
	}
}

// TransportSettings returns the transport selection configuration.
func (c *Config) TransportSettings() transport.SelectConfig {
	return transport.SelectConfig{
		Mirror:          c.mirrorSettings(c.Mirror.DSN),
		DirectChunkSize: c.Mirror.ChunkSize,
		HTTP: transport.HTTPConfig{
			URL:             c.API.URL,
			APIKey:          c.API.Key,
			Timeout:         c.API.Timeout,
			ChunkSize:       c.API.ChunkSize,
			MaxRetries:      c.API.MaxRetries,
			Compress:        c.API.Compress,
			RatePerSecond:   c.API.RatePerSecond,
			BreakerFailures: c.API.BreakerFailures,
			BreakerTimeout:  c.API.BreakerTimeout,
		},
	}
}

// ReceiverStoreSettings returns the PostgreSQL settings of the receiver.
// The receiver falls back to the mirror DSN.
func (c *Config) ReceiverStoreSettings() mirror.PostgresConfig {
	dsn := c.Receiver.DSN
	if dsn == "" {
		dsn = c.Mirror.DSN
	}
	return c.mirrorSettings(dsn)
}

func (c *Config) mirrorSettings(dsn string) mirror.PostgresConfig {
	return mirror.PostgresConfig{
		DSN:            dsn,
		MaxConns:       c.Mirror.MaxConns,
		ConnectTimeout: c.Mirror.ConnectTimeout,
		InitSchema:     c.Mirror.InitSchema,
	}
}

// SchedulerSettings returns the scheduler configuration.
func (c *Config) SchedulerSettings() scheduler.Config {
	return scheduler.Config{
		Interval:   c.Sync.Interval,
		RunOnStart: c.Sync.RunOnStart,
	}
}

// StorageSettings returns the archive configuration.
func (c *Config) StorageSettings(producer storage.ProducerInfo) storage.StorageConfig {
	return storage.StorageConfig{
		Backend:    c.Archive.Backend,
		LocalDir:   c.Archive.LocalDir,
		Bucket:     c.Archive.Bucket,
		S3Endpoint: c.Archive.S3Endpoint,
		S3Region:   c.Archive.S3Region,
		Prefix:     c.Archive.Prefix,
		Producer:   producer,
	}
}

// CheckpointSettings returns the checkpoint configuration.
func (c *Config) CheckpointSettings() checkpoint.Config {
	return checkpoint.Config{
		Enabled: c.Checkpoint.Enabled,
		Dir:     c.Checkpoint.Dir,
	}
}

// LoggingSettings returns the logging configuration.
func (c *Config) LoggingSettings() logging.Config {
	return logging.Config{
		Format: c.Logging.Format,
		Level:  c.Logging.Level,
	}
}
