package template

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Helper is a function callable from a template expression.
type Helper func(args []any) (any, error)

// builtinHelpers returns the standard helper library. Helpers are pure and
// operate on the already-evaluated argument values.
func builtinHelpers() map[string]Helper {
	return map[string]Helper{
		"upper": stringHelper(strings.ToUpper),
		"lower": stringHelper(strings.ToLower),
		"trim":  stringHelper(strings.TrimSpace),

		"length": func(args []any) (any, error) {
			if err := arity("length", args, 1, 1); err != nil {
				return nil, err
			}
			switch v := args[0].(type) {
			case nil:
				return float64(0), nil
			case string:
				return float64(len(v)), nil
			case []any:
				return float64(len(v)), nil
			case map[string]any:
				return float64(len(v)), nil
			default:
				return nil, fmt.Errorf("length: unsupported type %T", v)
			}
		},

		"formatDate": func(args []any) (any, error) {
			if err := arity("formatDate", args, 1, 2); err != nil {
				return nil, err
			}
			t, err := toTime(args[0])
			if err != nil {
				return nil, err
			}
			layout := "iso"
			if len(args) == 2 {
				s, ok := args[1].(string)
				if !ok {
					return nil, fmt.Errorf("formatDate: format must be a string")
				}
				layout = s
			}
			switch layout {
			case "iso":
				return t.UTC().Format(time.RFC3339), nil
			case "date":
				return t.UTC().Format("2006-01-02"), nil
			case "time":
				return t.UTC().Format("15:04:05"), nil
			default:
				return nil, fmt.Errorf("formatDate: unknown format %q", layout)
			}
		},

		"addDays": func(args []any) (any, error) {
			if err := arity("addDays", args, 2, 2); err != nil {
				return nil, err
			}
			t, err := toTime(args[0])
			if err != nil {
				return nil, err
			}
			days, err := toFloat(args[1])
			if err != nil {
				return nil, err
			}
			return t.UTC().AddDate(0, 0, int(days)).Format(time.RFC3339), nil
		},

		"add":      arithmeticHelper("add", func(a, b float64) (float64, error) { return a + b, nil }),
		"subtract": arithmeticHelper("subtract", func(a, b float64) (float64, error) { return a - b, nil }),
		"multiply": arithmeticHelper("multiply", func(a, b float64) (float64, error) { return a * b, nil }),
		"divide": arithmeticHelper("divide", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return a / b, nil
		}),

		"round": func(args []any) (any, error) {
			if err := arity("round", args, 1, 2); err != nil {
				return nil, err
			}
			n, err := toFloat(args[0])
			if err != nil {
				return nil, err
			}
			digits := 0.0
			if len(args) == 2 {
				if digits, err = toFloat(args[1]); err != nil {
					return nil, err
				}
			}
			factor := math.Pow(10, digits)
			return math.Round(n*factor) / factor, nil
		},

		"join": func(args []any) (any, error) {
			if err := arity("join", args, 1, 2); err != nil {
				return nil, err
			}
			items, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("join: first argument must be a sequence")
			}
			sep := ","
			if len(args) == 2 {
				s, ok := args[1].(string)
				if !ok {
					return nil, fmt.Errorf("join: separator must be a string")
				}
				sep = s
			}
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = formatValue(item)
			}
			return strings.Join(parts, sep), nil
		},

		"first": func(args []any) (any, error) {
			if err := arity("first", args, 1, 1); err != nil {
				return nil, err
			}
			items, ok := args[0].([]any)
			if !ok || len(items) == 0 {
				return nil, nil
			}
			return items[0], nil
		},

		"last": func(args []any) (any, error) {
			if err := arity("last", args, 1, 1); err != nil {
				return nil, err
			}
			items, ok := args[0].([]any)
			if !ok || len(items) == 0 {
				return nil, nil
			}
			return items[len(items)-1], nil
		},

		"slice": func(args []any) (any, error) {
			if err := arity("slice", args, 2, 3); err != nil {
				return nil, err
			}
			items, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("slice: first argument must be a sequence")
			}
			start, err := toFloat(args[1])
			if err != nil {
				return nil, err
			}
			end := float64(len(items))
			if len(args) == 3 {
				if end, err = toFloat(args[2]); err != nil {
					return nil, err
				}
			}
			lo, hi := clampRange(int(start), int(end), len(items))
			return items[lo:hi], nil
		},

		"keys": func(args []any) (any, error) {
			if err := arity("keys", args, 1, 1); err != nil {
				return nil, err
			}
			m, ok := args[0].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("keys: argument must be a map")
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := make([]any, len(keys))
			for i, k := range keys {
				out[i] = k
			}
			return out, nil
		},

		"values": func(args []any) (any, error) {
			if err := arity("values", args, 1, 1); err != nil {
				return nil, err
			}
			m, ok := args[0].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("values: argument must be a map")
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := make([]any, len(keys))
			for i, k := range keys {
				out[i] = m[k]
			}
			return out, nil
		},

		"if": func(args []any) (any, error) {
			if err := arity("if", args, 3, 3); err != nil {
				return nil, err
			}
			if truthy(args[0]) {
				return args[1], nil
			}
			return args[2], nil
		},

		"default": func(args []any) (any, error) {
			if err := arity("default", args, 2, 2); err != nil {
				return nil, err
			}
			if args[0] == nil || args[0] == "" {
				return args[1], nil
			}
			return args[0], nil
		},

		"urlEncode": stringHelper(url.QueryEscape),

		"urlDecode": func(args []any) (any, error) {
			if err := arity("urlDecode", args, 1, 1); err != nil {
				return nil, err
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("urlDecode: argument must be a string")
			}
			return url.QueryUnescape(s)
		},

		"toJson": func(args []any) (any, error) {
			if err := arity("toJson", args, 1, 1); err != nil {
				return nil, err
			}
			b, err := json.Marshal(args[0])
			if err != nil {
				return nil, fmt.Errorf("toJson: %w", err)
			}
			return string(b), nil
		},

		"fromJson": func(args []any) (any, error) {
			if err := arity("fromJson", args, 1, 1); err != nil {
				return nil, err
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("fromJson: argument must be a string")
			}
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("fromJson: %w", err)
			}
			return v, nil
		},
	}
}

// stringHelper adapts a single-argument string transform.
func stringHelper(fn func(string) string) Helper {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			if args[0] == nil {
				return "", nil
			}
			s = formatValue(args[0])
		}
		return fn(s), nil
	}
}

// arithmeticHelper adapts a two-operand numeric function.
func arithmeticHelper(name string, fn func(a, b float64) (float64, error)) Helper {
	return func(args []any) (any, error) {
		if err := arity(name, args, 2, 2); err != nil {
			return nil, err
		}
		a, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		b, err := toFloat(args[1])
		if err != nil {
			return nil, err
		}
		return fn(a, b)
	}
}

func arity(name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return fmt.Errorf("%s: expected %d argument(s), got %d", name, min, len(args))
		}
		return fmt.Errorf("%s: expected %d-%d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// toTime interprets time.Time values, RFC3339 strings, date-only strings,
// and epoch milliseconds.
func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", t)
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unparseable date of type %T", v)
	}
}

// truthy follows template semantics: nil, false, zero, and "" are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case float64:
		return t != 0
	default:
		return true
	}
}

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = n + lo
	}
	if hi < 0 {
		hi = n + hi
	}
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// formatValue renders a substituted value as a string: nulls become empty,
// structured values become JSON, scalars use their natural printed form.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
