// Package history tracks execution snapshots: an active map for running
// executions, a bounded cache of completed ones, and write-behind
// persistence to a Store.
package history

import (
	"time"
)

// Status is the lifecycle state of an execution.
type Status string

// Execution statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// IsValid returns true for a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// IsTerminal returns true once no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s != StatusRunning && s.IsValid()
}

// CanTransitionTo reports whether the transition is allowed. The only legal
// moves are running to a terminal status; terminal states are one-shot.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusRunning && next.IsTerminal()
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// ActionStatus is the lifecycle state of one action within an execution.
type ActionStatus string

// Action statuses.
const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionSkipped   ActionStatus = "skipped"
)

// IsTerminal returns true when the action has a final result.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionCompleted || s == ActionFailed || s == ActionSkipped
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	ActionID   string       `json:"action_id"`
	ActionType string       `json:"action_type"`
	Status     ActionStatus `json:"status"`
	StartTime  time.Time    `json:"start_time,omitempty"`
	EndTime    time.Time    `json:"end_time,omitempty"`
	Output     any          `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	RetryCount int          `json:"retry_count"`
}

// Progress is derived from the action result list; recomputation is
// idempotent.
type Progress struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Metrics aggregates action outcomes for a finished execution.
type Metrics struct {
	TotalActions      int           `json:"total_actions"`
	Successful        int           `json:"successful"`
	Failed            int           `json:"failed"`
	Skipped           int           `json:"skipped"`
	Retried           int           `json:"retried"`
	TotalRetries      int           `json:"total_retries"`
	AverageDuration   time.Duration `json:"average_duration"`
	LongestDuration   time.Duration `json:"longest_duration"`
	ShortestDuration  time.Duration `json:"shortest_duration"`
}

// Snapshot is the materialized view of one execution's progress.
type Snapshot struct {
	ExecutionID   string         `json:"execution_id"`
	WorkflowName  string         `json:"workflow_name"`
	Status        Status         `json:"status"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	CurrentAction string         `json:"current_action,omitempty"`
	Progress      Progress       `json:"progress"`
	Context       map[string]any `json:"context,omitempty"`
	ActionResults []ActionResult `json:"action_results"`
	Error         string         `json:"error,omitempty"`
	Metrics       *Metrics       `json:"metrics,omitempty"`
}

// Clone returns a deep-enough copy for handing snapshots outside the
// tracker lock. Action outputs and context values are shared, never
// mutated after finalization.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.ActionResults = append([]ActionResult(nil), s.ActionResults...)
	if s.Metrics != nil {
		m := *s.Metrics
		out.Metrics = &m
	}
	return &out
}

// RecomputeProgress derives the counters from the action results. total
// comes from the workflow's declared action count.
func (s *Snapshot) RecomputeProgress(total int) {
	p := Progress{Total: total}
	for _, r := range s.ActionResults {
		switch r.Status {
		case ActionCompleted:
			p.Completed++
		case ActionFailed:
			p.Failed++
		case ActionSkipped:
			p.Skipped++
		}
	}
	if total > 0 {
		p.Percentage = int(float64(p.Completed+p.Failed+p.Skipped)/float64(total)*100 + 0.5)
	}
	s.Progress = p
}
