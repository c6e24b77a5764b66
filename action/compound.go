package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hookflow/hookflow/condition"
	"github.com/hookflow/hookflow/history"
	"github.com/hookflow/hookflow/workflow"
)

// NestedRunner executes a list of nested actions within the current
// execution. The engine supplies it so conditional and loop can recurse
// without importing the engine. extraVars are layered over the execution's
// variables for the nested actions.
type NestedRunner func(ctx context.Context, actions []workflow.ActionConfig, ectx *Context, extraVars map[string]any) ([]history.ActionResult, error)

// defaultMaxIterations caps loop actions without an explicit bound.
const defaultMaxIterations = 100

// Conditional evaluates a condition group against the trigger payload and
// runs the then_actions or else_actions branch.
func Conditional(runner NestedRunner) Handler {
	return func(ctx context.Context, params map[string]any, ectx *Context) (any, error) {
		if runner == nil {
			return nil, Errorf(KindExecution, "conditional actions require a nested runner")
		}

		group, err := decodeConditions(params["conditions"])
		if err != nil {
			return nil, err
		}

		matched, err := group.Evaluate(conditionContext(ectx))
		if err != nil {
			return nil, Errorf(KindExecution, "evaluate conditional: %v", err)
		}

		branch := "else_actions"
		if matched {
			branch = "then_actions"
		}
		actions, err := decodeActions(params[branch], branch)
		if err != nil {
			return nil, err
		}

		results, err := runner(ctx, actions, ectx, nil)
		out := map[string]any{
			"matched": matched,
			"branch":  branch,
			"results": results,
		}
		if err != nil {
			return out, err
		}
		return out, nil
	}
}

// Loop iterates params.items, running the nested actions once per element
// with item and index variables layered in. max_iterations bounds the loop.
func Loop(runner NestedRunner) Handler {
	return func(ctx context.Context, params map[string]any, ectx *Context) (any, error) {
		if runner == nil {
			return nil, Errorf(KindExecution, "loop actions require a nested runner")
		}

		items, ok := params["items"].([]any)
		if !ok {
			return nil, Errorf(KindInvalidParams, "loop requires an items array")
		}
		actions, err := decodeActions(params["actions"], "actions")
		if err != nil {
			return nil, err
		}
		if len(actions) == 0 {
			return nil, Errorf(KindInvalidParams, "loop requires nested actions")
		}

		limit := defaultMaxIterations
		if raw, ok := params["max_iterations"]; ok {
			n, err := numberParam(map[string]any{"max_iterations": raw}, "max_iterations")
			if err != nil {
				return nil, err
			}
			if int(n) > 0 {
				limit = int(n)
			}
		}
		if len(items) > limit {
			items = items[:limit]
		}

		var all []history.ActionResult
		for i, item := range items {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			results, err := runner(ctx, actions, ectx, map[string]any{
				"item":  item,
				"index": float64(i),
			})
			all = append(all, results...)
			if err != nil {
				return map[string]any{
					"iterations": i + 1,
					"results":    all,
				}, fmt.Errorf("loop iteration %d: %w", i, err)
			}
		}
		return map[string]any{
			"iterations": len(items),
			"results":    all,
		}, nil
	}
}

// conditionContext builds the map conditional expressions read: the payload
// at the top level with trigger metadata and variables layered alongside.
func conditionContext(ectx *Context) map[string]any {
	out := make(map[string]any, len(ectx.Payload)+3)
	for k, v := range ectx.Payload {
		out[k] = v
	}
	out["event"] = ectx.Event
	out["repository"] = ectx.Repository
	out["variables"] = ectx.Variables
	return out
}

func decodeConditions(raw any) (*condition.Group, error) {
	if raw == nil {
		return nil, Errorf(KindInvalidParams, "conditional requires conditions")
	}
	var group condition.Group
	if err := reencode(raw, &group); err != nil {
		return nil, Errorf(KindInvalidParams, "decode conditions: %v", err)
	}
	return &group, nil
}

func decodeActions(raw any, key string) ([]workflow.ActionConfig, error) {
	if raw == nil {
		return nil, nil
	}
	var actions []workflow.ActionConfig
	if err := reencode(raw, &actions); err != nil {
		return nil, Errorf(KindInvalidParams, "decode %s: %v", key, err)
	}
	for i := range actions {
		if actions[i].ID == "" {
			actions[i].ID = fmt.Sprintf("%s_%d", key, i+1)
		}
	}
	return actions, nil
}

// reencode converts an untyped parameter value into a typed structure via
// JSON.
func reencode(raw, target any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, target)
}
