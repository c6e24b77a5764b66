package condition

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctx() map[string]any {
	return map[string]any{
		"action": "opened",
		"number": float64(42),
		"pull_request": map[string]any{
			"title":     "fix: flaky retry test",
			"draft":     false,
			"additions": float64(120),
			"labels":    []any{"bug", "backend"},
			"assignee":  nil,
		},
		"sender": map[string]any{"login": "alice"},
	}
}

func evalRule(t *testing.T, field string, op Operator, value any) bool {
	t.Helper()
	ok, err := EvaluateRule(&Rule{Field: field, Operator: op, Value: value}, ctx())
	require.NoError(t, err)
	return ok
}

func TestEquals(t *testing.T) {
	assert.True(t, evalRule(t, "action", OpEquals, "opened"))
	assert.False(t, evalRule(t, "action", OpEquals, "closed"))
	assert.True(t, evalRule(t, "number", OpEquals, float64(42)))
	// Numbers within the number family compare numerically.
	assert.True(t, evalRule(t, "number", OpEquals, 42))
	// No cross-type coercion against strings.
	assert.False(t, evalRule(t, "number", OpEquals, "42"))
	assert.True(t, evalRule(t, "action", OpNotEquals, "closed"))
}

func TestContains(t *testing.T) {
	assert.True(t, evalRule(t, "pull_request.title", OpContains, "retry"))
	assert.False(t, evalRule(t, "pull_request.title", OpContains, "revert"))
	// Sequence membership form.
	assert.True(t, evalRule(t, "pull_request.labels", OpContains, "bug"))
	assert.True(t, evalRule(t, "pull_request.labels", OpNotContains, "docs"))
}

func TestPrefixSuffix(t *testing.T) {
	assert.True(t, evalRule(t, "pull_request.title", OpStartsWith, "fix:"))
	assert.True(t, evalRule(t, "pull_request.title", OpEndsWith, "test"))
	// Non-string operands evaluate false, not error.
	assert.False(t, evalRule(t, "number", OpStartsWith, "4"))
}

func TestRegex(t *testing.T) {
	assert.True(t, evalRule(t, "pull_request.title", OpRegex, `^fix:`))
	assert.True(t, evalRule(t, "sender.login", OpMatches, `^ali`))
	// Bad pattern evaluates false, not error.
	assert.False(t, evalRule(t, "sender.login", OpRegex, `([`))
}

func TestInNotIn(t *testing.T) {
	assert.True(t, evalRule(t, "action", OpIn, []any{"opened", "reopened"}))
	assert.False(t, evalRule(t, "action", OpIn, []any{"closed"}))
	assert.True(t, evalRule(t, "action", OpNotIn, []any{"closed"}))
	// Non-sequence operand is a mismatch, never a match.
	assert.False(t, evalRule(t, "action", OpIn, "opened"))
}

func TestNumericComparisons(t *testing.T) {
	assert.True(t, evalRule(t, "pull_request.additions", OpGreaterThan, 100))
	assert.False(t, evalRule(t, "pull_request.additions", OpLessThan, 100))
	assert.True(t, evalRule(t, "pull_request.additions", OpGreaterEqual, float64(120)))
	assert.True(t, evalRule(t, "pull_request.additions", OpLessEqual, float64(120)))
	// Numeric coercion parses strings on either side.
	assert.True(t, evalRule(t, "pull_request.additions", OpGreaterThan, "100"))
	// Unparseable values evaluate false.
	assert.False(t, evalRule(t, "action", OpGreaterThan, 1))
}

func TestBetween(t *testing.T) {
	assert.True(t, evalRule(t, "pull_request.additions", OpBetween, []any{100, 200}))
	assert.False(t, evalRule(t, "pull_request.additions", OpBetween, []any{0, 100}))
	// Malformed pairs evaluate false.
	assert.False(t, evalRule(t, "pull_request.additions", OpBetween, []any{100}))
	assert.False(t, evalRule(t, "pull_request.additions", OpBetween, "100-200"))
}

func TestNullAndExistence(t *testing.T) {
	// assignee is present but null.
	assert.True(t, evalRule(t, "pull_request.assignee", OpIsNull, nil))
	assert.True(t, evalRule(t, "pull_request.assignee", OpExists, nil))
	assert.False(t, evalRule(t, "pull_request.assignee", OpIsNotNull, nil))
	// reviewer is absent entirely.
	assert.True(t, evalRule(t, "pull_request.reviewer", OpIsNull, nil))
	assert.False(t, evalRule(t, "pull_request.reviewer", OpExists, nil))
	assert.True(t, evalRule(t, "pull_request.reviewer", OpNotExists, nil))
}

func TestUnknownOperator(t *testing.T) {
	_, err := EvaluateRule(&Rule{Field: "action", Operator: "fuzzy_match", Value: "x"}, ctx())
	require.Error(t, err)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
}

func TestGroupComposition(t *testing.T) {
	g := &Group{
		Operator: GroupAnd,
		Rules: []Node{
			RuleNode("action", OpEquals, "opened"),
			GroupNode(GroupOr,
				RuleNode("pull_request.draft", OpEquals, true),
				RuleNode("pull_request.additions", OpGreaterThan, 50),
			),
		},
	}
	ok, err := g.Evaluate(ctx())
	require.NoError(t, err)
	assert.True(t, ok)

	not := &Group{Operator: GroupNot, Rules: []Node{RuleNode("action", OpEquals, "opened")}}
	ok, err = not.Evaluate(ctx())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyGroupIsTrue(t *testing.T) {
	for _, op := range []GroupOperator{GroupAnd, GroupOr, GroupNot} {
		ok, err := (&Group{Operator: op}).Evaluate(ctx())
		require.NoError(t, err)
		assert.True(t, ok, "operator %s", op)
	}
	var nilGroup *Group
	ok, err := nilGroup.Evaluate(ctx())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNodeJSONRoundTrip(t *testing.T) {
	raw := `{
		"operator": "AND",
		"rules": [
			{"field": "action", "operator": "equals", "value": "opened"},
			{"operator": "OR", "rules": [
				{"field": "number", "operator": "greater_than", "value": 10}
			]}
		]
	}`
	var g Group
	require.NoError(t, json.Unmarshal([]byte(raw), &g))
	require.Len(t, g.Rules, 2)
	assert.NotNil(t, g.Rules[0].Rule)
	assert.NotNil(t, g.Rules[1].Group)

	ok, err := g.Evaluate(ctx())
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := json.Marshal(&g)
	require.NoError(t, err)
	var again Group
	require.NoError(t, json.Unmarshal(out, &again))
	ok, err = again.Evaluate(ctx())
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestDeMorgan checks NOT(AND(x,y)) ≡ OR(NOT(x), NOT(y)) over arbitrary
// scalar contexts.
func TestDeMorgan(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	properties.Property("de morgan round-trip", prop.ForAll(
		func(a, b string, va, vb string) bool {
			evalCtx := map[string]any{"a": a, "b": b}
			x := RuleNode("a", OpEquals, va)
			y := RuleNode("b", OpEquals, vb)

			lhs := &Group{Operator: GroupNot, Rules: []Node{
				GroupNode(GroupAnd, x, y),
			}}
			rhs := &Group{Operator: GroupOr, Rules: []Node{
				GroupNode(GroupNot, x),
				GroupNode(GroupNot, y),
			}}

			l, err1 := lhs.Evaluate(evalCtx)
			r, err2 := rhs.Evaluate(evalCtx)
			return err1 == nil && err2 == nil && l == r
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
