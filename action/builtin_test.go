package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookflow/hookflow/history"
	"github.com/hookflow/hookflow/workflow"
)

func TestHTTPRequest(t *testing.T) {
	var got struct {
		method, path, auth string
		body               map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	handler := HTTPRequest(srv.Client())
	out, err := handler(context.Background(), map[string]any{
		"method": "post",
		"url":    srv.URL + "/comments",
		"headers": map[string]any{
			"Authorization": "Bearer token",
		},
		"body": map[string]any{"text": "hi"},
	}, &Context{})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/comments", got.path)
	assert.Equal(t, "Bearer token", got.auth)
	assert.Equal(t, map[string]any{"text": "hi"}, got.body)

	result := out.(map[string]any)
	assert.Equal(t, http.StatusOK, result["status"])
	assert.Equal(t, map[string]any{"id": float64(7)}, result["body"])
}

func TestHTTPRequestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	handler := HTTPRequest(srv.Client())
	out, err := handler(context.Background(), map[string]any{"url": srv.URL}, &Context{})
	require.Error(t, err)
	assert.Equal(t, KindHTTPError, KindOf(err))

	// The response is still returned alongside the error.
	result := out.(map[string]any)
	assert.Equal(t, http.StatusForbidden, result["status"])
}

func TestHTTPRequestMissingURL(t *testing.T) {
	handler := HTTPRequest(nil)
	_, err := handler(context.Background(), map[string]any{}, &Context{})
	assert.Equal(t, KindInvalidParams, KindOf(err))
}

// recordingRunner captures nested action invocations.
type recordingRunner struct {
	calls [][]workflow.ActionConfig
	vars  []map[string]any
	fail  bool
}

func (r *recordingRunner) run(_ context.Context, actions []workflow.ActionConfig, _ *Context, extraVars map[string]any) ([]history.ActionResult, error) {
	r.calls = append(r.calls, actions)
	r.vars = append(r.vars, extraVars)
	results := make([]history.ActionResult, len(actions))
	for i, a := range actions {
		results[i] = history.ActionResult{ActionID: a.ID, Status: history.ActionCompleted}
	}
	if r.fail {
		return results, Errorf(KindExecution, "nested failure")
	}
	return results, nil
}

func TestConditionalThenBranch(t *testing.T) {
	runner := &recordingRunner{}
	handler := Conditional(runner.run)

	ectx := &Context{Payload: map[string]any{"action": "opened"}}
	out, err := handler(context.Background(), map[string]any{
		"conditions": map[string]any{
			"operator": "AND",
			"rules": []any{
				map[string]any{"field": "action", "operator": "equals", "value": "opened"},
			},
		},
		"then_actions": []any{
			map[string]any{"type": "audit_log", "parameters": map[string]any{"message": "hit"}},
		},
		"else_actions": []any{
			map[string]any{"type": "delay"},
		},
	}, ectx)
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, true, result["matched"])
	assert.Equal(t, "then_actions", result["branch"])
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "audit_log", runner.calls[0][0].Type)
}

func TestConditionalElseBranch(t *testing.T) {
	runner := &recordingRunner{}
	handler := Conditional(runner.run)

	ectx := &Context{Payload: map[string]any{"action": "closed"}}
	out, err := handler(context.Background(), map[string]any{
		"conditions": map[string]any{
			"operator": "AND",
			"rules": []any{
				map[string]any{"field": "action", "operator": "equals", "value": "opened"},
			},
		},
		"else_actions": []any{
			map[string]any{"id": "fallback", "type": "audit_log"},
		},
	}, ectx)
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, false, result["matched"])
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "fallback", runner.calls[0][0].ID)
}

func TestConditionalWithoutRunner(t *testing.T) {
	handler := Conditional(nil)
	_, err := handler(context.Background(), map[string]any{"conditions": map[string]any{"operator": "AND"}}, &Context{})
	assert.Equal(t, KindExecution, KindOf(err))
}

func TestLoop(t *testing.T) {
	runner := &recordingRunner{}
	handler := Loop(runner.run)

	out, err := handler(context.Background(), map[string]any{
		"items": []any{"a", "b", "c"},
		"actions": []any{
			map[string]any{"type": "audit_log", "parameters": map[string]any{"message": "{{variables.item}}"}},
		},
	}, &Context{})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, 3, result["iterations"])
	require.Len(t, runner.vars, 3)
	assert.Equal(t, "a", runner.vars[0]["item"])
	assert.Equal(t, float64(2), runner.vars[2]["index"])
}

func TestLoopMaxIterations(t *testing.T) {
	runner := &recordingRunner{}
	handler := Loop(runner.run)

	items := make([]any, 10)
	out, err := handler(context.Background(), map[string]any{
		"items":          items,
		"max_iterations": 4,
		"actions":        []any{map[string]any{"type": "delay"}},
	}, &Context{})
	require.NoError(t, err)
	assert.Equal(t, 4, out.(map[string]any)["iterations"])
}

func TestLoopStopsOnNestedFailure(t *testing.T) {
	runner := &recordingRunner{fail: true}
	handler := Loop(runner.run)

	out, err := handler(context.Background(), map[string]any{
		"items":   []any{"a", "b"},
		"actions": []any{map[string]any{"type": "delay"}},
	}, &Context{})
	require.Error(t, err)
	assert.Equal(t, 1, out.(map[string]any)["iterations"])
	assert.Len(t, runner.calls, 1)
}

func TestLoopInvalidParams(t *testing.T) {
	handler := Loop((&recordingRunner{}).run)

	_, err := handler(context.Background(), map[string]any{"actions": []any{map[string]any{"type": "delay"}}}, &Context{})
	assert.Equal(t, KindInvalidParams, KindOf(err))

	_, err = handler(context.Background(), map[string]any{"items": []any{"a"}}, &Context{})
	assert.Equal(t, KindInvalidParams, KindOf(err))
}
