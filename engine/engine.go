// Package engine executes workflows: it plans stages from the dependency
// graph, gates actions on their conditions, resolves templated parameters,
// runs actions with retry and circuit-breaker protection, and records
// every outcome in the execution history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hookflow/hookflow/action"
	"github.com/hookflow/hookflow/engine/dag"
	"github.com/hookflow/hookflow/engine/retry"
	"github.com/hookflow/hookflow/events"
	"github.com/hookflow/hookflow/history"
	"github.com/hookflow/hookflow/metrics"
	"github.com/hookflow/hookflow/template"
	"github.com/hookflow/hookflow/workflow"
)

// DefaultTimeout bounds both whole executions and individual actions when
// the workflow does not override it.
const DefaultTimeout = 300 * time.Second

// ErrNotRunning is returned by Cancel for unknown or finished executions.
var ErrNotRunning = errors.New("execution is not running")

// Engine runs workflow executions.
type Engine struct {
	logger    *slog.Logger
	actions   *action.Registry
	tracker   *history.Tracker
	retries   *retry.Manager
	bus       *events.Bus
	metrics   *metrics.Metrics
	templates *template.Engine
	timeout   time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running map[string]*runningExecution
}

type runningExecution struct {
	state  *execState
	cancel context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBus sets the lifecycle event bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithRetryManager overrides the retry decider.
func WithRetryManager(m *retry.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.retries = m
		}
	}
}

// WithTemplateEngine overrides the template engine, for lenient-mode
// deployments.
func WithTemplateEngine(t *template.Engine) Option {
	return func(e *Engine) {
		if t != nil {
			e.templates = t
		}
	}
}

// WithDefaultTimeout overrides the execution and action timeout default.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates an engine. The action registry and tracker are required;
// everything else has working defaults.
func New(actions *action.Registry, tracker *history.Tracker, opts ...Option) *Engine {
	e := &Engine{
		logger:    slog.Default(),
		actions:   actions,
		tracker:   tracker,
		retries:   retry.NewManager(nil),
		bus:       events.NewBus(),
		metrics:   metrics.Nop(),
		templates: template.New(),
		timeout:   DefaultTimeout,
		running:   make(map[string]*runningExecution),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bus returns the lifecycle event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// ExecOption configures a single execution.
type ExecOption func(*execOptions)

type execOptions struct {
	executionID string
}

// WithExecutionID pins the execution id instead of generating one.
func WithExecutionID(id string) ExecOption {
	return func(o *execOptions) { o.executionID = id }
}

// Execute runs a workflow to completion and returns its result. Plan
// construction failures are fatal and happen before any state is recorded;
// action failures are handled per the workflow's retry and error policies.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Definition, trigger TriggerContext, opts ...ExecOption) (*ExecutionResult, error) {
	if wf == nil {
		return nil, errors.New("nil workflow definition")
	}
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	plan, err := dag.BuildPlan(wf.Actions)
	if err != nil {
		return nil, fmt.Errorf("build stage plan for %q: %w", wf.Name, err)
	}

	execID := o.executionID
	if execID == "" {
		execID = uuid.NewString()
	}

	st := &execState{
		id:           execID,
		workflowName: wf.Name,
		trigger:      trigger,
		startTime:    time.Now().UTC(),
		triggeredAt:  time.Now().UTC(),
	}

	total := e.timeout
	if wf.Timeout > 0 {
		total = time.Duration(wf.Timeout * float64(time.Second))
	}
	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	e.mu.Lock()
	e.running[execID] = &runningExecution{state: st, cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, execID)
		e.mu.Unlock()
		e.retries.ClearExecution(execID)
	}()

	e.tracker.Start(execID, wf.Name, len(wf.Actions), st.historyContext())
	e.publish(events.ExecutionStarted, st, nil)
	e.logger.Info("execution started",
		"execution", execID, "workflow", wf.Name, "event", trigger.Event, "stages", plan.StageCount())

	if gated, reason := e.workflowGate(wf, st); gated {
		e.skipAll(st, wf.Actions)
		return e.finish(st, wf, history.StatusCompleted, reason)
	}

	e.runStages(runCtx, st, wf, plan)

	if st.isCancelled() {
		return e.finishCancelled(st, wf)
	}
	if runCtx.Err() != nil && ctx.Err() != nil {
		st.markCancelled()
		_ = e.tracker.Cancel(execID)
		return e.finishCancelled(st, wf)
	}

	// Unstarted actions get terminal skipped results so progress counters
	// close out even on early exits.
	e.skipRemaining(st, wf.Actions)

	if runCtx.Err() != nil {
		return e.finish(st, wf, history.StatusTimeout, fmt.Sprintf("execution exceeded %s timeout", total))
	}

	status := history.StatusCompleted
	var errMsg string
	if failed := firstFailure(st.results()); failed != nil && stopOnFailure(wf) {
		status = history.StatusFailed
		errMsg = fmt.Sprintf("action %s failed: %s", failed.ActionID, failed.Error)
	}
	return e.finish(st, wf, status, errMsg)
}

// Cancel marks a running execution cancelled. In-flight actions are
// interrupted through context cancellation; their results are ignored.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	run, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, executionID)
	}

	run.state.markCancelled()
	if err := e.tracker.Cancel(executionID); err != nil {
		e.logger.Warn("cancel could not update history", "execution", executionID, "error", err)
	}
	run.cancel()
	e.logger.Info("execution cancelled", "execution", executionID)
	return nil
}

// workflowGate evaluates workflow-level conditions. A false result or an
// evaluation error skips the whole run.
func (e *Engine) workflowGate(wf *workflow.Definition, st *execState) (bool, string) {
	if wf.Conditions == nil {
		return false, ""
	}
	ok, err := wf.Conditions.Evaluate(st.conditionVars(nil))
	if err != nil {
		e.logger.Warn("workflow condition evaluation failed, skipping run",
			"execution", st.id, "workflow", wf.Name, "error", err)
		return true, fmt.Sprintf("workflow conditions failed to evaluate: %v", err)
	}
	if !ok {
		return true, ""
	}
	return false, ""
}

// runStages executes the plan stage by stage. Within a stage, runAsync
// actions run concurrently while the remaining actions run sequentially in
// listed order; the stage completes only when all are done. A failed
// action with onError=stop halts before the next stage.
func (e *Engine) runStages(ctx context.Context, st *execState, wf *workflow.Definition, plan *dag.Plan) {
	for _, stage := range plan.Stages {
		if ctx.Err() != nil || st.isCancelled() {
			return
		}

		var async, serial []workflow.ActionConfig
		for _, cfg := range stage {
			if cfg.RunAsync {
				async = append(async, cfg)
			} else {
				serial = append(serial, cfg)
			}
		}

		stageResults := make([]history.ActionResult, 0, len(stage))
		var (
			wg        sync.WaitGroup
			resultsMu sync.Mutex
		)
		for _, cfg := range async {
			wg.Add(1)
			go func(cfg workflow.ActionConfig) {
				defer wg.Done()
				r := e.runAction(ctx, st, cfg, false, nil)
				resultsMu.Lock()
				stageResults = append(stageResults, r)
				resultsMu.Unlock()
			}(cfg)
		}
		for _, cfg := range serial {
			r := e.runAction(ctx, st, cfg, false, nil)
			resultsMu.Lock()
			stageResults = append(stageResults, r)
			resultsMu.Unlock()
		}
		wg.Wait()

		for _, r := range stageResults {
			if r.Status != history.ActionFailed {
				continue
			}
			cfg := wf.Action(r.ActionID)
			if cfg != nil && cfg.OnError == workflow.OnErrorStop {
				e.logger.Warn("critical action failed, halting downstream stages",
					"execution", st.id, "action", r.ActionID, "error", r.Error)
				return
			}
		}
	}
}

// finish records the terminal status and returns the result.
func (e *Engine) finish(st *execState, wf *workflow.Definition, status history.Status, errMsg string) (*ExecutionResult, error) {
	results := st.results()
	m := computeMetrics(results)

	if err := e.tracker.Complete(st.id, status, errMsg, m); err != nil {
		e.logger.Warn("could not finalize history snapshot", "execution", st.id, "error", err)
	}

	kind := events.ExecutionCompleted
	switch status {
	case history.StatusFailed:
		kind = events.ExecutionFailed
	case history.StatusTimeout:
		kind = events.ExecutionTimeout
	}
	e.publish(kind, st, map[string]any{"error": errMsg})

	end := time.Now().UTC()
	e.metrics.ExecutionsTotal.WithLabelValues(string(status)).Inc()
	e.metrics.ExecutionDuration.Observe(end.Sub(st.startTime).Seconds())
	e.logger.Info("execution finished",
		"execution", st.id, "workflow", wf.Name, "status", status, "actions", len(results))

	return &ExecutionResult{
		ExecutionID:   st.id,
		WorkflowName:  wf.Name,
		Status:        status,
		StartTime:     st.startTime,
		EndTime:       end,
		Duration:      end.Sub(st.startTime),
		ActionResults: results,
		Error:         errMsg,
		Metrics:       m,
	}, nil
}

// finishCancelled builds the result for an externally cancelled execution.
// The snapshot transition already happened in Cancel.
func (e *Engine) finishCancelled(st *execState, wf *workflow.Definition) (*ExecutionResult, error) {
	results := st.results()
	end := time.Now().UTC()
	e.publish(events.ExecutionCancelled, st, nil)
	e.metrics.ExecutionsTotal.WithLabelValues(string(history.StatusCancelled)).Inc()
	e.logger.Info("execution finished",
		"execution", st.id, "workflow", wf.Name, "status", history.StatusCancelled)

	return &ExecutionResult{
		ExecutionID:   st.id,
		WorkflowName:  wf.Name,
		Status:        history.StatusCancelled,
		StartTime:     st.startTime,
		EndTime:       end,
		Duration:      end.Sub(st.startTime),
		ActionResults: results,
		Metrics:       computeMetrics(results),
	}, nil
}

// skipAll records a skipped result for every action.
func (e *Engine) skipAll(st *execState, actions []workflow.ActionConfig) {
	now := time.Now().UTC()
	for _, cfg := range actions {
		r := history.ActionResult{
			ActionID:   cfg.ID,
			ActionType: cfg.Type,
			Status:     history.ActionSkipped,
			StartTime:  now,
			EndTime:    now,
		}
		st.finalize(r)
		e.recordAction(st.id, r)
	}
}

// skipRemaining records skipped results for actions that never ran.
func (e *Engine) skipRemaining(st *execState, actions []workflow.ActionConfig) {
	done := make(map[string]bool)
	for _, r := range st.results() {
		done[r.ActionID] = true
	}
	now := time.Now().UTC()
	for _, cfg := range actions {
		if done[cfg.ID] {
			continue
		}
		r := history.ActionResult{
			ActionID:   cfg.ID,
			ActionType: cfg.Type,
			Status:     history.ActionSkipped,
			StartTime:  now,
			EndTime:    now,
		}
		st.finalize(r)
		e.recordAction(st.id, r)
	}
}

func (e *Engine) recordAction(executionID string, r history.ActionResult) {
	if err := e.tracker.ActionUpdate(executionID, r); err != nil {
		e.logger.Warn("could not record action update",
			"execution", executionID, "action", r.ActionID, "error", err)
	}
}

func (e *Engine) publish(kind events.Kind, st *execState, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:        kind,
		ExecutionID: st.id,
		Workflow:    st.workflowName,
		Data:        data,
	})
}

// firstFailure returns the first failed result, or nil.
func firstFailure(results []history.ActionResult) *history.ActionResult {
	for i := range results {
		if results[i].Status == history.ActionFailed {
			return &results[i]
		}
	}
	return nil
}

// stopOnFailure reports whether the workflow treats action failures as
// fatal. Unset error handling defaults to stop.
func stopOnFailure(wf *workflow.Definition) bool {
	if wf.ErrorHandling == nil {
		return true
	}
	return wf.ErrorHandling.OnFailure == "" || wf.ErrorHandling.OnFailure == workflow.OnErrorStop
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// breakerReason reports whether a retry denial came from the circuit
// breaker, which callers surface on the final error.
func breakerReason(reason string) bool {
	return strings.HasPrefix(reason, "circuit breaker")
}
