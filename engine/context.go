package engine

import (
	"sync"
	"time"

	"github.com/hookflow/hookflow/history"
)

// TriggerContext carries everything the triggering event contributes to an
// execution. Secrets never reach templates or persisted snapshots.
type TriggerContext struct {
	Event      string
	DeliveryID string
	Repository string
	Payload    map[string]any
	Variables  map[string]any
	Secrets    map[string]string
}

// ExecutionResult is the caller-visible outcome of one execution.
type ExecutionResult struct {
	ExecutionID   string                 `json:"execution_id"`
	WorkflowName  string                 `json:"workflow_name"`
	Status        history.Status         `json:"status"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time"`
	Duration      time.Duration          `json:"duration"`
	ActionResults []history.ActionResult `json:"action_results"`
	Error         string                 `json:"error,omitempty"`
	Metrics       *history.Metrics       `json:"metrics,omitempty"`
}

// execState is the engine-owned mutable state of one running execution.
type execState struct {
	id           string
	workflowName string
	trigger      TriggerContext
	startTime    time.Time
	triggeredAt  time.Time

	mu        sync.Mutex
	finalized []history.ActionResult
	cancelled bool
}

// finalize appends a terminal action result. Results appear in completion
// order, and only finalized results are visible to later actions.
func (s *execState) finalize(r history.ActionResult) {
	s.mu.Lock()
	s.finalized = append(s.finalized, r)
	s.mu.Unlock()
}

// results snapshots the finalized list.
func (s *execState) results() []history.ActionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.ActionResult(nil), s.finalized...)
}

func (s *execState) markCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *execState) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// templateVars builds the variable bundle templates resolve against:
// workflow, trigger, repository, execution (with a live duration), and user
// variables. Secrets are deliberately absent.
func (s *execState) templateVars(extra map[string]any) map[string]any {
	prev := s.results()
	prevMaps := make([]any, 0, len(prev))
	for _, r := range prev {
		prevMaps = append(prevMaps, map[string]any{
			"action_id":   r.ActionID,
			"action_type": r.ActionType,
			"status":      string(r.Status),
			"output":      r.Output,
			"error":       r.Error,
			"retry_count": r.RetryCount,
		})
	}

	vars := map[string]any{
		"workflow": map[string]any{
			"name": s.workflowName,
		},
		"trigger": map[string]any{
			"event":     s.trigger.Event,
			"timestamp": s.triggeredAt.UTC().Format(time.RFC3339),
			"payload":   s.trigger.Payload,
		},
		"repository": s.trigger.Repository,
		"execution": map[string]any{
			"id":               s.id,
			"start_time":       s.startTime.UTC().Format(time.RFC3339),
			"duration":         time.Since(s.startTime).Milliseconds(),
			"previous_actions": prevMaps,
		},
		"variables": s.trigger.Variables,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// conditionVars builds the map per-action conditions evaluate against: the
// trigger payload at the top level with sender and installation lifted,
// plus event, repository, and user variables.
func (s *execState) conditionVars(extra map[string]any) map[string]any {
	out := make(map[string]any, len(s.trigger.Payload)+5)
	for k, v := range s.trigger.Payload {
		out[k] = v
	}
	if sender, ok := s.trigger.Payload["sender"]; ok {
		out["sender"] = sender
	}
	if inst, ok := s.trigger.Payload["installation"]; ok {
		out["installation"] = inst
	}
	out["event"] = s.trigger.Event
	out["repository"] = s.trigger.Repository
	out["variables"] = s.trigger.Variables
	out["payload"] = s.trigger.Payload
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// historyContext is the context copy stored on snapshots. Secrets are
// excluded.
func (s *execState) historyContext() map[string]any {
	return map[string]any{
		"event":       s.trigger.Event,
		"delivery_id": s.trigger.DeliveryID,
		"repository":  s.trigger.Repository,
		"payload":     s.trigger.Payload,
		"variables":   s.trigger.Variables,
	}
}

// computeMetrics aggregates finalized action results.
func computeMetrics(results []history.ActionResult) *history.Metrics {
	m := &history.Metrics{TotalActions: len(results)}

	var total time.Duration
	var timed int
	for _, r := range results {
		switch r.Status {
		case history.ActionCompleted:
			m.Successful++
		case history.ActionFailed:
			m.Failed++
		case history.ActionSkipped:
			m.Skipped++
		}
		if r.RetryCount > 0 {
			m.Retried++
			m.TotalRetries += r.RetryCount
		}
		if !r.StartTime.IsZero() && !r.EndTime.IsZero() {
			d := r.EndTime.Sub(r.StartTime)
			total += d
			timed++
			if d > m.LongestDuration {
				m.LongestDuration = d
			}
			if m.ShortestDuration == 0 || d < m.ShortestDuration {
				m.ShortestDuration = d
			}
		}
	}
	if timed > 0 {
		m.AverageDuration = total / time.Duration(timed)
	}
	return m
}
