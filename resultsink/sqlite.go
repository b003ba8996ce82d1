package resultsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// runRecord is the SQLite row shape. Step telemetry and metadata are stored
// serialized; querying inside them is not a requirement of this sink.
type runRecord struct {
	RunID      string `gorm:"primaryKey;column:run_id"`
	PlanName   string `gorm:"column:plan_name;index"`
	PlanSource string `gorm:"column:plan_source"`
	Status     string `gorm:"column:status;index"`
	Steps      []byte `gorm:"column:steps"`
	Metadata   []byte `gorm:"column:metadata"`
	CreatedAt  time.Time
}

func (runRecord) TableName() string { return "runs" }

// SQLiteSink persists snapshots in a SQLite database.
type SQLiteSink struct {
	db *gorm.DB
}

// NewSQLiteSink opens (or creates) the database and migrates the schema.
// Path ":memory:" gives an ephemeral database, used by tests.
func NewSQLiteSink(cfg SQLiteConfig) (*SQLiteSink, error) {
	path := cfg.Path
	if path == "" {
		path = "planweave.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("migrate runs table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Save(ctx context.Context, snap *Snapshot) error {
	rec, err := toRecord(snap)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

func (s *SQLiteSink) Get(ctx context.Context, runID string) (*Snapshot, error) {
	var rec runRecord
	err := s.db.WithContext(ctx).First(&rec, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

func (s *SQLiteSink) List(ctx context.Context, limit int) ([]*Snapshot, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []runRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(recs))
	for i := range recs {
		snap, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *SQLiteSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(snap *Snapshot) (*runRecord, error) {
	steps, err := json.Marshal(snap.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return &runRecord{
		RunID:      snap.RunID,
		PlanName:   snap.PlanName,
		PlanSource: snap.PlanSource,
		Status:     snap.Status,
		Steps:      steps,
		Metadata:   meta,
		CreatedAt:  snap.CreatedAt,
	}, nil
}

func fromRecord(rec *runRecord) (*Snapshot, error) {
	snap := &Snapshot{
		RunID:      rec.RunID,
		PlanName:   rec.PlanName,
		PlanSource: rec.PlanSource,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
	}
	if len(rec.Steps) > 0 {
		if err := json.Unmarshal(rec.Steps, &snap.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &snap.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return snap, nil
}

var _ Sink = (*SQLiteSink)(nil)
