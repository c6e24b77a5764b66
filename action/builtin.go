package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Default bounds for the http_request action.
const (
	defaultHTTPTimeout  = 30 * time.Second
	maxHTTPResponseSize = 1 << 20 // 1 MiB
)

// RegisterBuiltins installs the builtin action kinds. runner executes
// nested actions for conditional and loop; pass nil to make those two fail
// at execution time.
func RegisterBuiltins(r *Registry, runner NestedRunner) {
	r.Register("delay", Delay)
	r.Register("http_request", HTTPRequest(nil))
	r.Register("audit_log", AuditLog)
	r.Register("conditional", Conditional(runner))
	r.Register("loop", Loop(runner))
}

// Delay sleeps for params.duration seconds, honoring cancellation.
func Delay(ctx context.Context, params map[string]any, _ *Context) (any, error) {
	seconds, err := numberParam(params, "duration")
	if err != nil {
		return nil, err
	}
	if seconds < 0 {
		return nil, Errorf(KindInvalidParams, "duration must not be negative")
	}

	d := time.Duration(seconds * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]any{"delayed_ms": d.Milliseconds()}, nil
}

// HTTPRequest returns a handler issuing an HTTP call described by
// parameters method, url, headers, and body. Status codes of 400 and above
// fail with kind http_error. A nil client uses a default with a 30 second
// timeout.
func HTTPRequest(client *http.Client) Handler {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return func(ctx context.Context, params map[string]any, _ *Context) (any, error) {
		url, err := stringParam(params, "url")
		if err != nil {
			return nil, err
		}
		method := strings.ToUpper(optionalString(params, "method", http.MethodGet))

		var body io.Reader
		if raw, ok := params["body"]; ok && raw != nil {
			switch b := raw.(type) {
			case string:
				body = strings.NewReader(b)
			default:
				encoded, err := json.Marshal(b)
				if err != nil {
					return nil, Errorf(KindInvalidParams, "encode request body: %v", err)
				}
				body = bytes.NewReader(encoded)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, Errorf(KindInvalidParams, "build request: %v", err)
		}
		if headers, ok := params["headers"].(map[string]any); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprint(v))
			}
		}
		if body != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, NewError(KindHTTPError, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseSize))
		if err != nil {
			return nil, NewError(KindHTTPError, err)
		}

		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
		result := map[string]any{
			"status": resp.StatusCode,
			"body":   parsed,
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return result, Errorf(KindHTTPError, "%s %s returned %d", method, url, resp.StatusCode)
		}
		return result, nil
	}
}

// AuditLog records a structured audit entry and returns it.
func AuditLog(_ context.Context, params map[string]any, ectx *Context) (any, error) {
	message := optionalString(params, "message", "")
	if message == "" {
		return nil, Errorf(KindInvalidParams, "audit_log requires a message")
	}

	entry := map[string]any{
		"message":   message,
		"workflow":  ectx.WorkflowName,
		"execution": ectx.ExecutionID,
		"event":     ectx.Event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if details, ok := params["details"].(map[string]any); ok {
		entry["details"] = details
	}

	logger := ectx.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audit",
		"message", message,
		"workflow", ectx.WorkflowName,
		"execution", ectx.ExecutionID)
	return entry, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", Errorf(KindInvalidParams, "missing required parameter %q", key)
	}
	return v, nil
}

func optionalString(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func numberParam(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, Errorf(KindInvalidParams, "parameter %q is not a number", key)
		}
		return f, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
			return 0, Errorf(KindInvalidParams, "parameter %q is not a number", key)
		}
		return f, nil
	default:
		return 0, Errorf(KindInvalidParams, "missing required parameter %q", key)
	}
}
