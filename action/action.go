// Package action provides the executor capability the engine invokes for
// each workflow action: a type-tagged registry of handlers plus the builtin
// action kinds.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Error kinds used for retry allow-lists and reporting.
const (
	KindTimeout       = "timeout"
	KindHTTPError     = "http_error"
	KindUnknownAction = "unknown_action"
	KindInvalidParams = "invalid_params"
	KindExecution     = "execution_error"
)

// Error tags an action failure with a kind.
type Error struct {
	Kind string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind tag.
func NewError(kind string, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies an error for retry allow-list matching.
func KindOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExecution
}

// Context carries the execution-scoped data handlers may read. The engine
// owns the originals; handlers must treat every map as read-only.
type Context struct {
	ExecutionID  string
	WorkflowName string
	Event        string
	Payload      map[string]any
	Repository   string
	Variables    map[string]any
	Logger       *slog.Logger
}

// Handler executes one action kind.
type Handler func(ctx context.Context, params map[string]any, ectx *Context) (any, error)

// Registry maps action type tags to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a handler to an action type, replacing any previous one.
func (r *Registry) Register(actionType string, h Handler) {
	r.mu.Lock()
	r.handlers[actionType] = h
	r.mu.Unlock()
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Execute dispatches to the handler for the action type.
func (r *Registry) Execute(ctx context.Context, actionType string, params map[string]any, ectx *Context) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[actionType]
	r.mu.RUnlock()
	if !ok {
		return nil, Errorf(KindUnknownAction, "no executor registered for action type %q", actionType)
	}
	return h(ctx, params, ectx)
}
