package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hookflow/hookflow/action"
	"github.com/hookflow/hookflow/history"
	"github.com/hookflow/hookflow/workflow"
)

// runAction executes one action to a terminal result: condition gate,
// parameter resolution, then the attempt loop under the retry policy.
// Nested actions (inside conditional/loop) skip history and the
// previousActions list; their results surface through the parent's output.
func (e *Engine) runAction(ctx context.Context, st *execState, cfg workflow.ActionConfig, nested bool, extraVars map[string]any) history.ActionResult {
	res := history.ActionResult{
		ActionID:   cfg.ID,
		ActionType: cfg.Type,
		Status:     history.ActionRunning,
		StartTime:  time.Now().UTC(),
	}
	if !nested {
		e.recordAction(st.id, res)
	}

	finalize := func() history.ActionResult {
		res.EndTime = time.Now().UTC()
		if !nested {
			st.finalize(res)
			e.recordAction(st.id, res)
		}
		e.metrics.ActionDuration.WithLabelValues(cfg.Type).
			Observe(res.EndTime.Sub(res.StartTime).Seconds())
		return res
	}

	if cfg.Conditions != nil {
		ok, err := cfg.Conditions.Evaluate(st.conditionVars(extraVars))
		if err != nil {
			e.logger.Warn("action condition evaluation failed, skipping",
				"execution", st.id, "action", cfg.ID, "error", err)
			res.Status = history.ActionSkipped
			res.Error = fmt.Sprintf("condition evaluation failed: %v", err)
			return finalize()
		}
		if !ok {
			res.Status = history.ActionSkipped
			return finalize()
		}
	}

	resolved, err := e.resolveParams(cfg, st, extraVars)
	if err != nil {
		res.Status = history.ActionFailed
		res.Error = fmt.Sprintf("resolve parameters: %v", err)
		return finalize()
	}

	ectx := e.actionContext(st, extraVars)

	actionTimeout := e.timeout
	if cfg.Timeout > 0 {
		actionTimeout = time.Duration(cfg.Timeout * float64(time.Second))
	}

	for attempts := 1; ; attempts++ {
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		out, execErr := e.actions.Execute(actx, cfg.Type, resolved, ectx)
		cancel()

		if execErr == nil {
			res.Status = history.ActionCompleted
			res.Output = out
			res.RetryCount = attempts - 1
			if attempts > 1 {
				e.retries.RecordSuccess(st.id, cfg.ID, cfg.Type)
			}
			return finalize()
		}

		kind := action.KindOf(execErr)
		decision := e.retries.Decide(cfg.Retry, cfg.Type, kind, attempts)
		e.retries.RecordFailure(st.id, cfg.ID, cfg.Type, attempts, decision.Delay, execErr)

		if !decision.Retry {
			res.Status = history.ActionFailed
			res.RetryCount = attempts - 1
			res.Error = execErr.Error()
			if breakerReason(decision.Reason) {
				res.Error = fmt.Sprintf("%s (%s)", execErr, decision.Reason)
			}
			return finalize()
		}

		e.metrics.ActionRetries.Inc()
		e.logger.Info("retrying action",
			"execution", st.id, "action", cfg.ID, "attempt", attempts, "delay", decision.Delay)
		if err := e.sleep(ctx, decision.Delay); err != nil {
			res.Status = history.ActionFailed
			res.RetryCount = attempts - 1
			res.Error = fmt.Sprintf("%s (interrupted while waiting to retry: %v)", execErr, err)
			return finalize()
		}
	}
}

// nestedActionKeys are compound-action parameters holding nested action
// lists. Their templates resolve per nested run, where loop variables like
// item and index exist, not when the parent's parameters are resolved.
var nestedActionKeys = map[string]bool{
	"actions":      true,
	"then_actions": true,
	"else_actions": true,
}

// resolveParams resolves an action's templated parameters. For conditional
// and loop actions the nested action lists pass through untouched.
func (e *Engine) resolveParams(cfg workflow.ActionConfig, st *execState, extraVars map[string]any) (map[string]any, error) {
	if cfg.Type != "conditional" && cfg.Type != "loop" {
		return e.templates.ResolveParams(cfg.Parameters, st.templateVars(extraVars))
	}

	deferred := make(map[string]any)
	eager := make(map[string]any, len(cfg.Parameters))
	for k, v := range cfg.Parameters {
		if nestedActionKeys[k] {
			deferred[k] = v
		} else {
			eager[k] = v
		}
	}
	resolved, err := e.templates.ResolveParams(eager, st.templateVars(extraVars))
	if err != nil {
		return nil, err
	}
	for k, v := range deferred {
		resolved[k] = v
	}
	return resolved, nil
}

// actionContext builds the handler-facing context. extraVars (loop item,
// index) are layered over the execution variables.
func (e *Engine) actionContext(st *execState, extraVars map[string]any) *action.Context {
	vars := st.trigger.Variables
	if len(extraVars) > 0 {
		merged := make(map[string]any, len(vars)+len(extraVars))
		for k, v := range vars {
			merged[k] = v
		}
		for k, v := range extraVars {
			merged[k] = v
		}
		vars = merged
	}
	return &action.Context{
		ExecutionID:  st.id,
		WorkflowName: st.workflowName,
		Event:        st.trigger.Event,
		Payload:      st.trigger.Payload,
		Repository:   st.trigger.Repository,
		Variables:    vars,
		Logger:       e.logger,
	}
}

// NestedRunner returns the recursion hook for conditional and loop
// actions: nested actions run sequentially with the full gate, template,
// and retry machinery, stopping at the first failure.
func (e *Engine) NestedRunner() action.NestedRunner {
	return func(ctx context.Context, actions []workflow.ActionConfig, ectx *action.Context, extraVars map[string]any) ([]history.ActionResult, error) {
		st := e.stateFor(ectx)
		results := make([]history.ActionResult, 0, len(actions))
		for _, cfg := range actions {
			r := e.runAction(ctx, st, cfg, true, extraVars)
			results = append(results, r)
			if r.Status == history.ActionFailed {
				return results, action.Errorf(action.KindExecution,
					"nested action %s failed: %s", r.ActionID, r.Error)
			}
		}
		return results, nil
	}
}

// stateFor finds the running execution behind an action context, falling
// back to an ephemeral state when the execution is not engine-managed.
func (e *Engine) stateFor(ectx *action.Context) *execState {
	e.mu.Lock()
	run, ok := e.running[ectx.ExecutionID]
	e.mu.Unlock()
	if ok {
		return run.state
	}
	return &execState{
		id:           ectx.ExecutionID,
		workflowName: ectx.WorkflowName,
		trigger: TriggerContext{
			Event:      ectx.Event,
			Repository: ectx.Repository,
			Payload:    ectx.Payload,
			Variables:  ectx.Variables,
		},
		startTime:   time.Now().UTC(),
		triggeredAt: time.Now().UTC(),
	}
}
