package resultsink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSink writes one JSON document per run into a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a file-backed sink, creating the directory if needed.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "results"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) path(runID string) string {
	return filepath.Join(s.dir, "run-"+runID+".json")
}

func (s *FileSink) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	// Write-then-rename so a crash never leaves a truncated document.
	tmp := s.path(snap.RunID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path(snap.RunID))
}

func (s *FileSink) Get(_ context.Context, runID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(runID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *FileSink) List(ctx context.Context, limit int) ([]*Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(name, "run-"), ".json")
		snap, err := s.Get(ctx, runID)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileSink) Close() error { return nil }

var _ Sink = (*FileSink)(nil)
