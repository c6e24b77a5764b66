package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

// Create stores a snapshot, overwriting any previous version.
func (m *MemoryStore) Create(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	m.snaps[s.ExecutionID] = s.Clone()
	m.mu.Unlock()
	return nil
}

// Update is identical to Create; writes are idempotent full snapshots.
func (m *MemoryStore) Update(ctx context.Context, s *Snapshot) error {
	return m.Create(ctx, s)
}

// Query returns matching snapshots, newest first, honoring offset and
// limit.
func (m *MemoryStore) Query(_ context.Context, f Filter) ([]*Snapshot, error) {
	m.mu.RLock()
	var out []*Snapshot
	for _, s := range m.snaps {
		if f.matches(s) {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Aggregate summarizes matching snapshots.
func (m *MemoryStore) Aggregate(_ context.Context, f Filter) (*Aggregate, error) {
	m.mu.RLock()
	var matched []*Snapshot
	for _, s := range m.snaps {
		if f.matches(s) {
			matched = append(matched, s)
		}
	}
	agg := aggregateSnapshots(matched)
	m.mu.RUnlock()
	return agg, nil
}

// DeleteOlderThan removes snapshots started before the cutoff.
func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, s := range m.snaps {
		if s.StartTime.Before(cutoff) {
			delete(m.snaps, id)
			deleted++
		}
	}
	return deleted, nil
}
