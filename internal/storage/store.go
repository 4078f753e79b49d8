package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// ManifestFile is the name of the manifest written next to the parquet files.
const ManifestFile = "_manifest.json"

// SnapshotRef locates an archived cycle snapshot.
type SnapshotRef struct {
	Date    string // yyyy-mm-dd of extraction (UTC)
	CycleID string
}

// RefFor returns the archive location of a snapshot.
func RefFor(snap tables.Snapshot) SnapshotRef {
	return SnapshotRef{
		Date:    snap.ExtractedAt.UTC().Format(time.DateOnly),
		CycleID: snap.CycleID,
	}
}

// DirPath returns the directory path for this snapshot.
func (r SnapshotRef) DirPath(prefix string) string {
	return path.Join(strings.TrimSuffix(prefix, "/"), r.Date, r.CycleID)
}

// FilePath returns the storage path of a class's parquet file.
func (r SnapshotRef) FilePath(prefix string, class tables.Class) string {
	return path.Join(r.DirPath(prefix), string(class)+".parquet")
}

// ManifestPath returns the storage path for this snapshot's manifest.
func (r SnapshotRef) ManifestPath(prefix string) string {
	return path.Join(r.DirPath(prefix), ManifestFile)
}

// Manifest describes the contents of a snapshot directory.
type Manifest struct {
	Snapshot  SnapshotInfo         `json:"snapshot"`
	Tables    map[string]TableInfo `json:"tables"`
	Producer  ProducerInfo         `json:"producer"`
	CreatedAt time.Time            `json:"created_at"`
}

// SnapshotInfo identifies the archived cycle.
type SnapshotInfo struct {
	CycleID       string    `json:"cycle_id"`
	ExtractedAt   time.Time `json:"extracted_at"`
	SchemaVersion string    `json:"schema_version"`
}

// TableInfo describes a single table in the snapshot.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the snapshot.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// Encode returns the manifest as indented JSON bytes.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// SnapshotStore archives extracted snapshots and reads them back for replay.
type SnapshotStore interface {
	// WriteSnapshot archives both classes and the manifest of a snapshot.
	WriteSnapshot(ctx context.Context, snap tables.Snapshot) (SnapshotRef, error)

	// ReadSnapshot loads and checksum-verifies an archived snapshot.
	ReadSnapshot(ctx context.Context, ref SnapshotRef) (tables.Snapshot, *Manifest, error)

	// FindCycle locates a snapshot by cycle ID, scanning dates when the
	// date is unknown.
	FindCycle(ctx context.Context, cycleID, date string) (SnapshotRef, error)

	// URI returns the canonical URI for the given key.
	URI(key string) string

	// Location returns the URI of a snapshot's directory.
	Location(ref SnapshotRef) string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures the archive backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3" | "mem"

	// Local filesystem
	LocalDir string

	// GCS / S3 bucket name
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Common
	Prefix string // path prefix within bucket or local dir

	Producer ProducerInfo
}

// NewSnapshotStore creates an archive store based on configuration.
func NewSnapshotStore(ctx context.Context, cfg StorageConfig) (*BlobStore, error) {
	bucketURL, scheme, err := BucketURL(cfg)
	if err != nil {
		return nil, err
	}
	return OpenBlobStore(ctx, bucketURL, scheme, cfg)
}

// BucketURL builds the gocloud bucket URL for the configured backend.
func BucketURL(cfg StorageConfig) (bucketURL, uriBase string, err error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return "", "", fmt.Errorf("LocalDir required for local backend")
		}
		return localBucketURL(cfg.LocalDir), "file://" + cfg.LocalDir, nil
	case "gcs":
		if cfg.Bucket == "" {
			return "", "", fmt.Errorf("Bucket required for gcs backend")
		}
		return "gs://" + cfg.Bucket, "gs://" + cfg.Bucket, nil
	case "s3":
		if cfg.Bucket == "" {
			return "", "", fmt.Errorf("Bucket required for s3 backend")
		}
		return s3BucketURL(cfg.Bucket, cfg.S3Endpoint, cfg.S3Region), "s3://" + cfg.Bucket, nil
	case "mem":
		return "mem://", "mem://", nil
	default:
		return "", "", fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
