package resultsink

import (
	"context"
	"sort"
	"sync"
)

// MemorySink keeps snapshots in process memory. Suitable for tests and
// one-shot CLI runs where persistence across processes is not needed.
type MemorySink struct {
	mu   sync.RWMutex
	runs map[string]*Snapshot
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{runs: make(map[string]*Snapshot)}
}

func (s *MemorySink) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snap
	s.runs[snap.RunID] = &copied
	return nil
}

func (s *MemorySink) Get(_ context.Context, runID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *snap
	return &copied, nil
}

func (s *MemorySink) List(_ context.Context, limit int) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Snapshot, 0, len(s.runs))
	for _, snap := range s.runs {
		copied := *snap
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySink) Close() error { return nil }

var _ Sink = (*MemorySink)(nil)
