// Package template substitutes {{expression}} tags inside action parameter
// values. An expression is either a field path resolved against the
// execution variables bundle or a single helper call with minimally parsed
// arguments. Expressions matching the safety denylist are rejected before
// evaluation; helper calls do not nest.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hookflow/hookflow/fieldpath"
)

// DefaultMaxDepth caps recursive descent into parameter maps and slices.
// Exceeding it is always fatal regardless of mode.
const DefaultMaxDepth = 10

// Mode controls how unresolved expressions are handled.
type Mode int

const (
	// ModeStrict fails resolution when an expression does not resolve.
	ModeStrict Mode = iota
	// ModeLenient substitutes the configured default for unresolved
	// expressions, leaving the original tag in place when no default is set.
	ModeLenient
)

// ErrorKind classifies template failures.
type ErrorKind string

const (
	// ErrUnresolved means a path or helper argument had no value.
	ErrUnresolved ErrorKind = "unresolved"
	// ErrUnsafe means the expression matched the safety denylist.
	ErrUnsafe ErrorKind = "unsafe"
	// ErrDepthExceeded means the parameter structure nests too deeply.
	ErrDepthExceeded ErrorKind = "depth_exceeded"
	// ErrHelper means a helper call was malformed or the helper failed.
	ErrHelper ErrorKind = "helper"
)

// Error is a template resolution failure.
type Error struct {
	Kind       ErrorKind
	Expression string
	Reason     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Expression != "" {
		return fmt.Sprintf("template: %s in {{%s}}: %s", e.Kind, e.Expression, e.Reason)
	}
	return fmt.Sprintf("template: %s: %s", e.Kind, e.Reason)
}

// tagPattern matches {{...}} tags. Tag bodies never contain braces.
var tagPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// helperPattern matches a helper call: name(args).
var helperPattern = regexp.MustCompile(`^\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\((.*)\)\s*$`)

// Engine resolves template tags within parameter structures.
type Engine struct {
	mode     Mode
	fallback any
	hasFall  bool
	maxDepth int
	helpers  map[string]Helper
}

// Option configures an Engine.
type Option func(*Engine)

// WithMode sets strict or lenient resolution.
func WithMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithDefault sets the substitution used for unresolved expressions in
// lenient mode.
func WithDefault(v any) Option {
	return func(e *Engine) { e.fallback = v; e.hasFall = true }
}

// WithMaxDepth overrides the parameter structure depth cap.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithHelper registers an additional helper, overriding any builtin with
// the same name.
func WithHelper(name string, h Helper) Option {
	return func(e *Engine) { e.helpers[name] = h }
}

// New creates a template engine with the builtin helper library. The
// default mode is strict.
func New(opts ...Option) *Engine {
	e := &Engine{
		mode:     ModeStrict,
		maxDepth: DefaultMaxDepth,
		helpers:  builtinHelpers(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveParams walks the parameter structure and rewrites every string
// containing template tags. Maps and slices are copied, never mutated. A
// "now" entry with the current timestamp fields is injected into vars when
// the caller has not provided one.
func (e *Engine) ResolveParams(params map[string]any, vars map[string]any) (map[string]any, error) {
	vars = withNow(vars)
	out, err := e.resolveValue(params, vars, 0)
	if err != nil {
		return nil, err
	}
	resolved, ok := out.(map[string]any)
	if !ok {
		// params was a map going in; this cannot happen.
		panic("template: resolved params is not a map")
	}
	return resolved, nil
}

// ResolveString rewrites template tags in a single string.
func (e *Engine) ResolveString(s string, vars map[string]any) (string, error) {
	return e.resolveString(s, withNow(vars))
}

func (e *Engine) resolveValue(v any, vars map[string]any, depth int) (any, error) {
	if depth > e.maxDepth {
		return nil, &Error{Kind: ErrDepthExceeded, Reason: fmt.Sprintf("parameter nesting exceeds %d levels", e.maxDepth)}
	}

	switch t := v.(type) {
	case string:
		return e.resolveString(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			resolved, err := e.resolveValue(val, vars, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			resolved, err := e.resolveValue(val, vars, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString substitutes every tag in s. Non-template strings pass
// through untouched.
func (e *Engine) resolveString(s string, vars map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var firstErr error
	result := tagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		if firstErr != nil {
			return tag
		}
		expr := strings.TrimSpace(tag[2 : len(tag)-2])

		value, err := e.evalExpression(expr, vars)
		if err != nil {
			if e.mode == ModeLenient {
				var terr *Error
				// Depth and helper failures stay fatal; only unresolved and
				// unsafe expressions fall back in lenient mode.
				if asTemplateError(err, &terr) && (terr.Kind == ErrUnresolved || terr.Kind == ErrUnsafe) {
					if e.hasFall {
						return formatValue(e.fallback)
					}
					return tag
				}
			}
			firstErr = err
			return tag
		}
		return formatValue(value)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// evalExpression evaluates a single tag body: safety check, then helper
// call or bare path.
func (e *Engine) evalExpression(expr string, vars map[string]any) (any, error) {
	if expr == "" {
		return nil, &Error{Kind: ErrUnresolved, Expression: expr, Reason: "empty expression"}
	}
	if reason := checkSafety(expr); reason != "" {
		return nil, &Error{Kind: ErrUnsafe, Expression: expr, Reason: reason}
	}

	if m := helperPattern.FindStringSubmatch(expr); m != nil {
		return e.callHelper(expr, m[1], m[2], vars)
	}

	v, err := fieldpath.Resolve(vars, expr, fieldpath.Strict())
	if err != nil {
		return nil, &Error{Kind: ErrUnresolved, Expression: expr, Reason: err.Error()}
	}
	return v, nil
}

// callHelper parses the argument list and invokes the named helper.
func (e *Engine) callHelper(expr, name, argList string, vars map[string]any) (any, error) {
	helper, ok := e.helpers[name]
	if !ok {
		return nil, &Error{Kind: ErrHelper, Expression: expr, Reason: fmt.Sprintf("unknown helper %q", name)}
	}

	parts, err := splitArgs(argList)
	if err != nil {
		return nil, &Error{Kind: ErrHelper, Expression: expr, Reason: err.Error()}
	}

	args := make([]any, 0, len(parts))
	for i, part := range parts {
		// default() exists to observe a miss: its subject argument
		// resolves leniently so the fallback can take over.
		lenient := name == "default" && i == 0
		arg, err := e.evalArg(part, vars, lenient)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	result, err := helper(args)
	if err != nil {
		return nil, &Error{Kind: ErrHelper, Expression: expr, Reason: fmt.Sprintf("%s: %v", name, err)}
	}
	return result, nil
}

// evalArg interprets a helper argument: quoted string, numeric literal,
// true/false/null, otherwise a field path. Lenient arguments yield nil on
// an unresolved path instead of an error.
func (e *Engine) evalArg(arg string, vars map[string]any, lenient bool) (any, error) {
	arg = strings.TrimSpace(arg)
	switch {
	case arg == "":
		return nil, &Error{Kind: ErrHelper, Reason: "empty argument"}
	case arg == "true":
		return true, nil
	case arg == "false":
		return false, nil
	case arg == "null":
		return nil, nil
	}

	if len(arg) >= 2 && (arg[0] == '"' || arg[0] == '\'') && arg[len(arg)-1] == arg[0] {
		return arg[1 : len(arg)-1], nil
	}

	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return f, nil
	}

	if reason := checkSafety(arg); reason != "" {
		return nil, &Error{Kind: ErrUnsafe, Expression: arg, Reason: reason}
	}
	v, err := fieldpath.Resolve(vars, arg, fieldpath.Strict())
	if err != nil {
		if lenient {
			return nil, nil
		}
		return nil, &Error{Kind: ErrUnresolved, Expression: arg, Reason: err.Error()}
	}
	return v, nil
}

// splitArgs splits a helper argument list on commas outside quotes.
func splitArgs(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var (
		parts   []string
		current strings.Builder
		quote   byte
	)
	for i := 0; i < len(list); i++ {
		c := list[i]
		switch {
		case quote != 0:
			current.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			current.WriteByte(c)
		case c == ',':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in arguments")
	}
	parts = append(parts, current.String())
	return parts, nil
}

// withNow shallow-copies vars and injects the "now" timestamp map unless
// the caller supplied one.
func withNow(vars map[string]any) map[string]any {
	if _, ok := vars["now"]; ok {
		return vars
	}
	out := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	now := time.Now().UTC()
	out["now"] = map[string]any{
		"iso":    now.Format(time.RFC3339),
		"epoch":  float64(now.UnixMilli()),
		"year":   float64(now.Year()),
		"month":  float64(now.Month()),
		"day":    float64(now.Day()),
		"hour":   float64(now.Hour()),
		"minute": float64(now.Minute()),
		"second": float64(now.Second()),
	}
	return out
}

func asTemplateError(err error, target **Error) bool {
	t, ok := err.(*Error)
	if ok {
		*target = t
	}
	return ok
}
