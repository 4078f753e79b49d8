package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/erp-mirror/internal/tables"
	"github.com/withObsrvr/erp-mirror/internal/util"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrChecksumMismatch = tables.ErrChecksumMismatch
)

// BlobStore implements SnapshotStore on a gocloud bucket.
type BlobStore struct {
	bucket   *blob.Bucket
	prefix   string
	uriBase  string
	producer ProducerInfo
	logger   *slog.Logger
}

// OpenBlobStore opens the bucket at bucketURL.
func OpenBlobStore(ctx context.Context, bucketURL, uriBase string, cfg StorageConfig) (*BlobStore, error) {
	if cfg.Backend == "local" {
		if err := util.EnsureDir(cfg.LocalDir); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.LocalDir, err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBlobStore(bucket, uriBase, cfg.Prefix, cfg.Producer), nil
}

// NewBlobStore wraps an already opened bucket.
func NewBlobStore(bucket *blob.Bucket, uriBase, prefix string, producer ProducerInfo) *BlobStore {
	if producer.Name == "" {
		producer.Name = "erp-mirror"
	}
	return &BlobStore{
		bucket:   bucket,
		prefix:   prefix,
		uriBase:  strings.TrimSuffix(uriBase, "/"),
		producer: producer,
		logger:   slog.With("component", "archive"),
	}
}

// WriteSnapshot writes every file to a temporary key first and only copies
// into place once all uploads succeeded. The manifest is finalized last so a
// readable manifest implies complete parquet files.
func (s *BlobStore) WriteSnapshot(ctx context.Context, snap tables.Snapshot) (SnapshotRef, error) {
	ref := RefFor(snap)

	enc, err := tables.EncodeParquet(snap)
	if err != nil {
		return ref, err
	}

	manifest := &Manifest{
		Snapshot: SnapshotInfo{
			CycleID:       snap.CycleID,
			ExtractedAt:   snap.ExtractedAt.UTC(),
			SchemaVersion: tables.SchemaVersion,
		},
		Tables:    make(map[string]TableInfo, len(tables.Classes)),
		Producer:  s.producer,
		CreatedAt: time.Now().UTC(),
	}

	var finalKeys, tempKeys []string
	for _, c := range tables.Classes {
		data := enc.Parquets[c]
		key := ref.FilePath(s.prefix, c)
		tmp, err := s.writeTemp(ctx, key, data)
		if err != nil {
			s.abort(ctx, tempKeys)
			return ref, err
		}
		tempKeys = append(tempKeys, tmp)
		finalKeys = append(finalKeys, key)

		manifest.Tables[string(c)] = TableInfo{
			File:     string(c) + ".parquet",
			Checksum: enc.Checksums[c],
			RowCount: enc.RowCounts[c],
			ByteSize: int64(len(data)),
		}
	}

	mdata, err := manifest.Encode()
	if err != nil {
		s.abort(ctx, tempKeys)
		return ref, fmt.Errorf("marshal manifest: %w", err)
	}
	mkey := ref.ManifestPath(s.prefix)
	mtmp, err := s.writeTemp(ctx, mkey, mdata)
	if err != nil {
		s.abort(ctx, tempKeys)
		return ref, err
	}
	tempKeys = append(tempKeys, mtmp)
	finalKeys = append(finalKeys, mkey)

	if err := s.finalize(ctx, tempKeys, finalKeys); err != nil {
		return ref, err
	}

	s.logger.Info("snapshot archived",
		"cycle_id", snap.CycleID,
		"uri", s.Location(ref),
		"picks", enc.RowCounts[tables.ClassOrderSummaries],
		"work_orders", enc.RowCounts[tables.ClassWorkOrders],
	)
	return ref, nil
}

// ReadSnapshot implements SnapshotStore.
func (s *BlobStore) ReadSnapshot(ctx context.Context, ref SnapshotRef) (tables.Snapshot, *Manifest, error) {
	mdata, err := s.read(ctx, ref.ManifestPath(s.prefix))
	if err != nil {
		return tables.Snapshot{}, nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(mdata, &manifest); err != nil {
		return tables.Snapshot{}, nil, fmt.Errorf("parse manifest: %w", err)
	}

	snap := tables.Snapshot{
		CycleID:     manifest.Snapshot.CycleID,
		ExtractedAt: manifest.Snapshot.ExtractedAt,
	}

	for _, c := range tables.Classes {
		info, ok := manifest.Tables[string(c)]
		if !ok {
			return tables.Snapshot{}, nil, fmt.Errorf("manifest missing table %s", c)
		}
		data, err := s.read(ctx, ref.FilePath(s.prefix, c))
		if err != nil {
			return tables.Snapshot{}, nil, err
		}
		if err := tables.VerifyChecksum(data, info.Checksum); err != nil {
			return tables.Snapshot{}, nil, fmt.Errorf("%s: %w", c, err)
		}

		switch c {
		case tables.ClassOrderSummaries:
			snap.OrderSummaries, err = tables.DecodeOrderSummaries(data)
		case tables.ClassWorkOrders:
			snap.WorkOrders, err = tables.DecodeWorkOrders(data)
		}
		if err != nil {
			return tables.Snapshot{}, nil, fmt.Errorf("decode %s: %w", c, err)
		}
	}

	return snap, &manifest, nil
}

// FindCycle implements SnapshotStore.
func (s *BlobStore) FindCycle(ctx context.Context, cycleID, date string) (SnapshotRef, error) {
	if date != "" {
		ref := SnapshotRef{Date: date, CycleID: cycleID}
		ok, err := s.bucket.Exists(ctx, ref.ManifestPath(s.prefix))
		if err != nil {
			return ref, fmt.Errorf("check %s: %w", ref.ManifestPath(s.prefix), err)
		}
		if !ok {
			return ref, ErrSnapshotNotFound
		}
		return ref, nil
	}

	keys, err := s.List(ctx, strings.TrimSuffix(s.prefix, "/"))
	if err != nil {
		return SnapshotRef{}, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	suffix := "/" + cycleID + "/" + ManifestFile
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(key, suffix), "/")
		return SnapshotRef{Date: parts[len(parts)-1], CycleID: cycleID}, nil
	}
	return SnapshotRef{CycleID: cycleID}, ErrSnapshotNotFound
}

// List returns all keys with the given prefix, skipping temp files.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir || strings.Contains(obj.Key, ".tmp.") {
			continue
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.uriBase + "/" + strings.TrimPrefix(key, "/")
}

// Location returns the URI of a snapshot's directory.
func (s *BlobStore) Location(ref SnapshotRef) string {
	return s.URI(ref.DirPath(s.prefix))
}

// Close releases the bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) writeTemp(ctx context.Context, key string, data []byte) (string, error) {
	tempKey := key + ".tmp." + uuid.New().String()
	if err := s.bucket.WriteAll(ctx, tempKey, data, nil); err != nil {
		return "", fmt.Errorf("write %s: %w", tempKey, err)
	}
	return tempKey, nil
}

// finalize copies temp objects to their final keys, rolling back copied
// objects if any copy fails.
func (s *BlobStore) finalize(ctx context.Context, tempKeys, finalKeys []string) error {
	for i, tempKey := range tempKeys {
		if err := s.bucket.Copy(ctx, finalKeys[i], tempKey, nil); err != nil {
			for j := 0; j < i; j++ {
				_ = s.bucket.Delete(ctx, finalKeys[j])
			}
			s.abort(ctx, tempKeys)
			return fmt.Errorf("finalize %s -> %s: %w", tempKey, finalKeys[i], err)
		}
	}
	s.abort(ctx, tempKeys)
	return nil
}

func (s *BlobStore) abort(ctx context.Context, tempKeys []string) {
	for _, key := range tempKeys {
		_ = s.bucket.Delete(ctx, key) // ignore errors
	}
}

func (s *BlobStore) read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s: %w", key, ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}
