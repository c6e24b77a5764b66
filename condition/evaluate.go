package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/hookflow/hookflow/fieldpath"
)

// EvalError reports a predicate that could not be evaluated, such as an
// unknown operator. Comparison mismatches (wrong types, bad regex) are not
// errors; they evaluate to false.
type EvalError struct {
	Field    string
	Operator Operator
	Reason   string
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("condition: field %q operator %q: %s", e.Field, e.Operator, e.Reason)
}

// Evaluate runs the predicate tree against ctx. AND and OR short-circuit
// left to right; NOT is true when no child is true; an empty rule list is
// true. Unknown operators surface as *EvalError.
func (g *Group) Evaluate(ctx map[string]any) (bool, error) {
	if g == nil || len(g.Rules) == 0 {
		return true, nil
	}
	if !g.Operator.IsValid() {
		return false, &EvalError{Operator: Operator(g.Operator), Reason: "unknown group operator"}
	}

	switch g.Operator {
	case GroupAnd:
		for i := range g.Rules {
			ok, err := evalNode(&g.Rules[i], ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case GroupOr:
		for i := range g.Rules {
			ok, err := evalNode(&g.Rules[i], ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	default: // GroupNot
		for i := range g.Rules {
			ok, err := evalNode(&g.Rules[i], ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	}
}

func evalNode(n *Node, ctx map[string]any) (bool, error) {
	switch {
	case n.Group != nil:
		return n.Group.Evaluate(ctx)
	case n.Rule != nil:
		return EvaluateRule(n.Rule, ctx)
	default:
		return false, &EvalError{Reason: "empty node"}
	}
}

// EvaluateRule applies a single filter rule against ctx.
func EvaluateRule(r *Rule, ctx map[string]any) (bool, error) {
	// Existence checks look at key presence before any value semantics.
	switch r.Operator {
	case OpExists:
		return fieldpath.Exists(ctx, r.Field), nil
	case OpNotExists:
		return !fieldpath.Exists(ctx, r.Field), nil
	}

	present := fieldpath.Exists(ctx, r.Field)
	value, _ := fieldpath.Resolve(ctx, r.Field)

	switch r.Operator {
	case OpIsNull:
		return !present || value == nil, nil
	case OpIsNotNull:
		return present && value != nil, nil

	case OpEquals:
		return strictEqual(value, r.Value), nil
	case OpNotEquals:
		return !strictEqual(value, r.Value), nil

	case OpContains:
		return contains(value, r.Value), nil
	case OpNotContains:
		return !contains(value, r.Value), nil

	case OpStartsWith:
		s, ok1 := value.(string)
		p, ok2 := r.Value.(string)
		return ok1 && ok2 && strings.HasPrefix(s, p), nil
	case OpEndsWith:
		s, ok1 := value.(string)
		p, ok2 := r.Value.(string)
		return ok1 && ok2 && strings.HasSuffix(s, p), nil

	case OpRegex, OpMatches:
		pattern, ok := r.Value.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Compilation failure evaluates false rather than failing the tree.
			return false, nil
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		return re.MatchString(s), nil

	case OpIn:
		return membership(value, r.Value), nil
	case OpNotIn:
		return !membership(value, r.Value), nil

	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return compareNumeric(r.Operator, value, r.Value), nil

	case OpBetween:
		return between(value, r.Value), nil

	default:
		return false, &EvalError{Field: r.Field, Operator: r.Operator, Reason: "unknown operator"}
	}
}

// strictEqual compares without cross-type coercion. Numeric values compare
// numerically within the number family only, so float64(1) equals int(1)
// but never "1".
func strictEqual(a, b any) bool {
	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)
	if aNum != bNum {
		return false
	}
	if aNum {
		// Strings that merely parse as numbers are not numbers.
		if _, isStr := a.(string); isStr {
			return reflect.DeepEqual(a, b)
		}
		if _, isStr := b.(string); isStr {
			return reflect.DeepEqual(a, b)
		}
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// contains is substring when both operands are strings, element membership
// when the target is a sequence.
func contains(target, needle any) bool {
	if s, ok := target.(string); ok {
		n, ok := needle.(string)
		return ok && strings.Contains(s, n)
	}
	items, ok := asSequence(target)
	if !ok {
		return false
	}
	for _, item := range items {
		if strictEqual(item, needle) {
			return true
		}
	}
	return false
}

// membership checks value ∈ set where set is the rule's sequence operand.
func membership(value, set any) bool {
	items, ok := asSequence(set)
	if !ok {
		return false
	}
	for _, item := range items {
		if strictEqual(value, item) {
			return true
		}
	}
	return false
}

// compareNumeric coerces both sides with a numeric parse; NaN or
// unparseable operands evaluate false.
func compareNumeric(op Operator, a, b any) bool {
	av, ok1 := toNumber(a)
	bv, ok2 := toNumber(b)
	if !ok1 || !ok2 || math.IsNaN(av) || math.IsNaN(bv) {
		return false
	}
	switch op {
	case OpGreaterThan:
		return av > bv
	case OpLessThan:
		return av < bv
	case OpGreaterEqual:
		return av >= bv
	default:
		return av <= bv
	}
}

// between expects the rule operand to be a two-element [low, high] pair and
// checks low ≤ value ≤ high. Malformed pairs or NaN evaluate false.
func between(value, pair any) bool {
	bounds, ok := asSequence(pair)
	if !ok || len(bounds) != 2 {
		return false
	}
	v, ok := toNumber(value)
	if !ok || math.IsNaN(v) {
		return false
	}
	lo, ok1 := toNumber(bounds[0])
	hi, ok2 := toNumber(bounds[1])
	if !ok1 || !ok2 || math.IsNaN(lo) || math.IsNaN(hi) {
		return false
	}
	return lo <= v && v <= hi
}

// toNumber parses any numeric-looking value into float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asSequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}
