package history

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultCompletedCapacity bounds the in-memory completed cache.
const DefaultCompletedCapacity = 1000

// ErrExecutionNotFound is returned for unknown execution ids.
var ErrExecutionNotFound = errors.New("execution not found")

// storeTimeout bounds each write-behind store call.
const storeTimeout = 5 * time.Second

// Tracker maintains execution snapshots: an active map for running
// executions and a bounded cache of completed ones, with write-behind
// persistence. Store failures are logged, never propagated.
type Tracker struct {
	store    Store
	logger   *slog.Logger
	capacity int

	mu        sync.RWMutex
	active    map[string]*Snapshot
	completed []*Snapshot // newest start time first
}

// NewTracker creates a tracker. store may be nil for purely in-memory
// operation.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    store,
		logger:   logger,
		capacity: DefaultCompletedCapacity,
		active:   make(map[string]*Snapshot),
	}
}

// SetCompletedCapacity overrides the completed-cache bound.
func (t *Tracker) SetCompletedCapacity(n int) {
	if n > 0 {
		t.mu.Lock()
		t.capacity = n
		t.mu.Unlock()
	}
}

// Start registers a new running execution.
func (t *Tracker) Start(executionID, workflowName string, totalActions int, execContext map[string]any) *Snapshot {
	s := &Snapshot{
		ExecutionID:  executionID,
		WorkflowName: workflowName,
		Status:       StatusRunning,
		StartTime:    time.Now().UTC(),
		Context:      execContext,
		Progress:     Progress{Total: totalActions},
	}

	t.mu.Lock()
	t.active[executionID] = s
	snap := s.Clone()
	t.mu.Unlock()

	t.persist(snap, true)
	return snap
}

// ActionUpdate records an action result, replacing any earlier result for
// the same action id, and recomputes progress.
func (t *Tracker) ActionUpdate(executionID string, result ActionResult) error {
	t.mu.Lock()
	s, ok := t.active[executionID]
	if !ok {
		t.mu.Unlock()
		return ErrExecutionNotFound
	}

	replaced := false
	for i := range s.ActionResults {
		if s.ActionResults[i].ActionID == result.ActionID {
			s.ActionResults[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		s.ActionResults = append(s.ActionResults, result)
	}

	if result.Status == ActionRunning {
		s.CurrentAction = result.ActionID
	} else if s.CurrentAction == result.ActionID {
		s.CurrentAction = ""
	}

	s.RecomputeProgress(s.Progress.Total)
	snap := s.Clone()
	t.mu.Unlock()

	t.persist(snap, false)
	return nil
}

// Complete moves an execution to a terminal status. Completing an already
// terminal or unknown execution is a no-op returning ErrExecutionNotFound.
func (t *Tracker) Complete(executionID string, status Status, execErr string, metrics *Metrics) error {
	if !StatusRunning.CanTransitionTo(status) {
		return errors.New("invalid terminal status: " + status.String())
	}

	t.mu.Lock()
	s, ok := t.active[executionID]
	if !ok {
		t.mu.Unlock()
		return ErrExecutionNotFound
	}
	delete(t.active, executionID)

	s.Status = status
	s.EndTime = time.Now().UTC()
	s.DurationMs = s.EndTime.Sub(s.StartTime).Milliseconds()
	s.CurrentAction = ""
	s.Error = execErr
	s.Metrics = metrics
	s.RecomputeProgress(s.Progress.Total)

	t.insertCompleted(s)
	snap := s.Clone()
	t.mu.Unlock()

	t.persist(snap, false)
	return nil
}

// Cancel marks a running execution cancelled.
func (t *Tracker) Cancel(executionID string) error {
	return t.Complete(executionID, StatusCancelled, "execution cancelled", nil)
}

// Get returns the snapshot for an execution, checking active then the
// completed cache.
func (t *Tracker) Get(executionID string) (*Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.active[executionID]; ok {
		return s.Clone(), nil
	}
	for _, s := range t.completed {
		if s.ExecutionID == executionID {
			return s.Clone(), nil
		}
	}
	return nil, ErrExecutionNotFound
}

// Active returns snapshots of all running executions.
func (t *Tracker) Active() []*Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Snapshot, 0, len(t.active))
	for _, s := range t.active {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// Recent returns up to n completed executions, newest first.
func (t *Tracker) Recent(n int) []*Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > len(t.completed) {
		n = len(t.completed)
	}
	out := make([]*Snapshot, 0, n)
	for _, s := range t.completed[:n] {
		out = append(out, s.Clone())
	}
	return out
}

// insertCompleted keeps the completed cache ordered by start time, newest
// first, evicting the oldest beyond capacity. Caller holds the lock.
func (t *Tracker) insertCompleted(s *Snapshot) {
	i := sort.Search(len(t.completed), func(i int) bool {
		return t.completed[i].StartTime.Before(s.StartTime)
	})
	t.completed = append(t.completed, nil)
	copy(t.completed[i+1:], t.completed[i:])
	t.completed[i] = s

	if len(t.completed) > t.capacity {
		t.completed = t.completed[:t.capacity]
	}
}

// persist writes the snapshot behind the caller's back; failures only log.
func (t *Tracker) persist(s *Snapshot, create bool) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var err error
	if create {
		err = t.store.Create(ctx, s)
	} else {
		err = t.store.Update(ctx, s)
	}
	if err != nil {
		t.logger.Error("history store write failed",
			"execution", s.ExecutionID, "status", s.Status.String(), "error", err)
	}
}
