// Package resultsink persists finished runs. A run snapshot carries the plan
// identity, final status, the full step telemetry trail and summary metadata;
// backends range from in-process memory to files, SQLite and Redis, selected
// by configuration through the factory.
package resultsink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planweave/planweave/engine"
)

// SinkType identifies a sink backend.
type SinkType string

const (
	SinkTypeMemory SinkType = "memory"
	SinkTypeFile   SinkType = "file"
	SinkTypeSQLite SinkType = "sqlite"
	SinkTypeRedis  SinkType = "redis"
)

// ErrNotFound is returned when a run snapshot does not exist.
var ErrNotFound = errors.New("run not found")

// Snapshot is the persisted record of one run.
type Snapshot struct {
	RunID      string                 `json:"run_id"`
	PlanName   string                 `json:"plan_name"`
	PlanSource string                 `json:"plan_source"`
	Status     string                 `json:"status"`
	Steps      []engine.StepTelemetry `json:"steps"`
	Metadata   map[string]any         `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Sink stores run snapshots. Save is an upsert keyed by run ID.
type Sink interface {
	Save(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, runID string) (*Snapshot, error)
	// List returns snapshots newest first, at most limit (0 means all).
	List(ctx context.Context, limit int) ([]*Snapshot, error)
	Close() error
}

// FileConfig configures the file sink.
type FileConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// SQLiteConfig configures the SQLite sink.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// Config selects and configures a sink backend.
type Config struct {
	Type   SinkType     `yaml:"type" json:"type"`
	File   FileConfig   `yaml:"file" json:"file"`
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`
	Redis  RedisConfig  `yaml:"redis" json:"redis"`
}

// New creates a Sink based on the configuration.
func New(cfg Config) (Sink, error) {
	switch cfg.Type {
	case SinkTypeMemory, "":
		return NewMemorySink(), nil
	case SinkTypeFile:
		return NewFileSink(cfg.File)
	case SinkTypeSQLite:
		return NewSQLiteSink(cfg.SQLite)
	case SinkTypeRedis:
		return NewRedisSink(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", cfg.Type)
	}
}
