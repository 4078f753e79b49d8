package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/withObsrvr/erp-mirror/internal/util"
)

// StateFile is the file name of the persisted sync state.
const StateFile = "sync_state.json"

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint records the outcome of the most recent replication cycle.
type Checkpoint struct {
	InstanceID    string     `json:"instance_id"`
	LastCycle     *CycleInfo `json:"last_cycle,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastSuccessID string     `json:"last_success_cycle_id,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CycleInfo describes one completed cycle.
type CycleInfo struct {
	CycleID     string    `json:"cycle_id"`
	Result      string    `json:"result"`
	Transport   string    `json:"transport"`
	FellBack    bool      `json:"fell_back,omitempty"`
	Picks       int       `json:"picks"`
	WorkOrders  int       `json:"work_orders"`
	FailedBatch int       `json:"failed_batches,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Archive     string    `json:"archive,omitempty"`
}

// Staleness returns how long ago the last successful cycle finished.
func (c *Checkpoint) Staleness(now time.Time) (time.Duration, bool) {
	if c == nil || c.LastSuccessAt == nil {
		return 0, false
	}
	return now.Sub(*c.LastSuccessAt), true
}

// Record folds a finished cycle into the checkpoint.
func (c *Checkpoint) Record(info CycleInfo) {
	c.LastCycle = &info
	if info.Result == "success" {
		at := info.CompletedAt
		c.LastSuccessAt = &at
		c.LastSuccessID = info.CycleID
	}
	c.UpdatedAt = time.Now().UTC()
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the current checkpoint.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := util.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{path: filepath.Join(cfg.Dir, StateFile)}, nil
}

// fileManager persists the checkpoint to a local file.
type fileManager struct {
	path string
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := util.WriteFileAtomic(m.path, data, 0o644); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
