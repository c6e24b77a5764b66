// Package fieldpath provides safe path extraction over arbitrary nested
// data structures such as decoded webhook payloads. Paths combine dot
// notation, array indexing, wildcards, and equality filters:
//
//	pull_request.labels[0].name
//	commits[-1].id
//	commits[*].author.login
//	issues[state="open"].title
//
// Resolution is a pure function of (data, path, options): it never mutates
// its input and holds no state between calls.
package fieldpath

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// DefaultMaxDepth caps the number of path segments traversed during a
// single resolution. Deeply nested paths beyond this are treated as
// pathological input.
const DefaultMaxDepth = 50

// missing is the internal sentinel distinguishing "no value at this path"
// from a present nil value.
type missingType struct{}

var missing = missingType{}

// ResolveError reports a failed resolution in strict mode.
type ResolveError struct {
	// Path is the full path expression being resolved.
	Path string

	// Segment is the segment at which resolution failed.
	Segment string

	// Reason describes why resolution failed.
	Reason string
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("fieldpath: cannot resolve %q at segment %q: %s", e.Path, e.Segment, e.Reason)
	}
	return fmt.Sprintf("fieldpath: cannot resolve %q: %s", e.Path, e.Reason)
}

// Options controls resolution behavior.
type Options struct {
	// Graceful returns Default instead of an error when the path does not
	// resolve. Enabled by default.
	Graceful bool

	// Default is the value returned for unresolved paths in graceful mode.
	Default any

	// NullIsMissing treats an explicit null value as if the key were absent.
	NullIsMissing bool

	// MaxDepth caps the number of segments traversed.
	MaxDepth int
}

// Option mutates Options.
type Option func(*Options)

// WithDefault sets the value returned for unresolved paths in graceful mode.
func WithDefault(v any) Option {
	return func(o *Options) { o.Default = v }
}

// Strict disables graceful mode: unresolved paths return a *ResolveError.
func Strict() Option {
	return func(o *Options) { o.Graceful = false }
}

// NullIsMissing treats explicit nulls as missing values.
func NullIsMissing() Option {
	return func(o *Options) { o.NullIsMissing = true }
}

// WithMaxDepth overrides the segment depth cap.
func WithMaxDepth(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxDepth = n
		}
	}
}

func defaultOptions() Options {
	return Options{Graceful: true, MaxDepth: DefaultMaxDepth}
}

// Resolve extracts the value at path from data. In graceful mode (the
// default) unresolved paths yield the configured default and a nil error;
// in strict mode they yield a *ResolveError.
func Resolve(data any, path string, opts ...Option) (any, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	segments, err := Parse(path)
	if err != nil {
		if o.Graceful {
			return o.Default, nil
		}
		return nil, &ResolveError{Path: path, Reason: err.Error()}
	}
	if len(segments) > o.MaxDepth {
		if o.Graceful {
			return o.Default, nil
		}
		return nil, &ResolveError{Path: path, Reason: fmt.Sprintf("path depth %d exceeds maximum %d", len(segments), o.MaxDepth)}
	}

	v := resolveSegments(data, segments, o)
	if _, isMissing := v.(missingType); isMissing {
		if o.Graceful {
			return o.Default, nil
		}
		return nil, &ResolveError{Path: path, Reason: "no value at path"}
	}
	return v, nil
}

// Exists reports whether path resolves to any value in data, including an
// explicit null. It never errors.
func Exists(data any, path string) bool {
	segments, err := Parse(path)
	if err != nil || len(segments) > DefaultMaxDepth {
		return false
	}
	v := resolveSegments(data, segments, Options{Graceful: true, MaxDepth: DefaultMaxDepth})
	_, isMissing := v.(missingType)
	return !isMissing
}

// resolveSegments walks data applying each segment in order. It returns the
// missing sentinel when any segment fails to resolve.
func resolveSegments(data any, segments []segment, o Options) any {
	current := data
	for i, seg := range segments {
		if o.NullIsMissing && current == nil {
			return missing
		}

		switch seg.kind {
		case segProperty:
			current = lookupProperty(current, seg.key)

		case segIndex:
			current = lookupIndex(current, seg.index)

		case segWildcard:
			items, ok := asSlice(current)
			if !ok {
				return missing
			}
			rest := segments[i+1:]
			if len(rest) == 0 {
				return items
			}
			return mapElements(items, rest, o)

		case segFilter:
			items, ok := asSlice(current)
			if !ok {
				return missing
			}
			var kept []any
			for _, item := range items {
				fv := lookupProperty(item, seg.filterKey)
				if _, isMissing := fv.(missingType); isMissing {
					continue
				}
				if scalarEqual(fv, seg.filterValue) {
					kept = append(kept, item)
				}
			}
			rest := segments[i+1:]
			if len(rest) == 0 {
				if kept == nil {
					kept = []any{}
				}
				return kept
			}
			return mapElements(kept, rest, o)
		}

		if _, isMissing := current.(missingType); isMissing {
			return missing
		}
	}

	if o.NullIsMissing && current == nil {
		return missing
	}
	return current
}

// mapElements applies the remaining segments to each element, keeping only
// resolved results in their original order.
func mapElements(items []any, rest []segment, o Options) any {
	out := []any{}
	for _, item := range items {
		v := resolveSegments(item, rest, o)
		if _, isMissing := v.(missingType); isMissing {
			continue
		}
		out = append(out, v)
	}
	return out
}

// lookupProperty resolves a named property on maps and structs.
func lookupProperty(data any, key string) any {
	switch m := data.(type) {
	case map[string]any:
		v, ok := m[key]
		if !ok {
			return missing
		}
		return v
	case map[string]string:
		v, ok := m[key]
		if !ok {
			return missing
		}
		return v
	case nil:
		return missing
	}

	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return missing
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return missing
		}
		mv := rv.MapIndex(reflect.ValueOf(key))
		if !mv.IsValid() {
			return missing
		}
		return mv.Interface()
	case reflect.Struct:
		fv := rv.FieldByName(key)
		if !fv.IsValid() || !fv.CanInterface() {
			return missing
		}
		return fv.Interface()
	default:
		return missing
	}
}

// lookupIndex resolves an integer index, negative values counting from the
// end of the sequence.
func lookupIndex(data any, idx int) any {
	items, ok := asSlice(data)
	if !ok {
		return missing
	}
	if idx < 0 {
		idx = len(items) + idx
	}
	if idx < 0 || idx >= len(items) {
		return missing
	}
	return items[idx]
}

// asSlice normalizes sequence values to []any without copying when possible.
func asSlice(data any) ([]any, bool) {
	switch s := data.(type) {
	case []any:
		return s, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// scalarEqual compares a resolved scalar against the quoted filter literal.
// Numbers compare by their printed form so 42 matches "42".
func scalarEqual(v any, literal string) bool {
	switch t := v.(type) {
	case string:
		return t == literal
	case bool, int, int32, int64, float32, float64, uint, uint32, uint64, json.Number:
		return fmt.Sprint(t) == literal
	default:
		return false
	}
}
