package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVars() map[string]any {
	return map[string]any{
		"workflow": map[string]any{"name": "pr-notify"},
		"trigger": map[string]any{
			"event": "pull_request.opened",
			"payload": map[string]any{
				"pull_request": map[string]any{"number": float64(42), "merged": false},
				"sender":       map[string]any{"login": "alice"},
				"labels":       []any{"bug", "backend"},
			},
		},
		"repository": map[string]any{"full_name": "octo/hello"},
		"variables":  map[string]any{"channel": "#eng"},
	}
}

func TestResolveBarePath(t *testing.T) {
	e := New()
	out, err := e.ResolveString("pr #{{trigger.payload.pull_request.number}}", testVars())
	require.NoError(t, err)
	assert.Equal(t, "pr #42", out)
}

func TestResolveHelperCall(t *testing.T) {
	e := New()
	out, err := e.ResolveString(
		"pr #{{trigger.payload.pull_request.number}} by {{upper(trigger.payload.sender.login)}}",
		testVars())
	require.NoError(t, err)
	assert.Equal(t, "pr #42 by ALICE", out)
}

func TestStrictUnresolvedFails(t *testing.T) {
	e := New()
	_, err := e.ResolveString("{{missing.field}}", testVars())
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrUnresolved, terr.Kind)
}

func TestLenientUnresolved(t *testing.T) {
	// With a default the tag is replaced.
	e := New(WithMode(ModeLenient), WithDefault(""))
	out, err := e.ResolveString("x={{missing.field}}", testVars())
	require.NoError(t, err)
	assert.Equal(t, "x=", out)

	// Without a default the original tag survives.
	e = New(WithMode(ModeLenient))
	out, err = e.ResolveString("x={{missing.field}}", testVars())
	require.NoError(t, err)
	assert.Equal(t, "x={{missing.field}}", out)
}

func TestDenylist(t *testing.T) {
	e := New()
	for _, expr := range []string{
		"constructor.name",
		"__proto__.polluted",
		"eval",
		"process.env.SECRET",
		"globalThis.fetch",
		"setTimeout",
	} {
		_, err := e.ResolveString("{{"+expr+"}}", testVars())
		require.Error(t, err, "expression %q", expr)
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ErrUnsafe, terr.Kind, "expression %q", expr)
	}

	// Lenient mode substitutes the default instead of failing.
	e = New(WithMode(ModeLenient), WithDefault("[removed]"))
	out, err := e.ResolveString("{{process.env.SECRET}}", testVars())
	require.NoError(t, err)
	assert.Equal(t, "[removed]", out)
}

func TestDepthExceededAlwaysFatal(t *testing.T) {
	deep := map[string]any{}
	current := deep
	for i := 0; i < DefaultMaxDepth+2; i++ {
		next := map[string]any{}
		current["nested"] = next
		current = next
	}
	current["msg"] = "{{workflow.name}}"

	for _, mode := range []Mode{ModeStrict, ModeLenient} {
		e := New(WithMode(mode), WithDefault(""))
		_, err := e.ResolveParams(deep, testVars())
		require.Error(t, err, "mode %v", mode)
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ErrDepthExceeded, terr.Kind)
	}
}

func TestResolveParamsIdentityWithoutTags(t *testing.T) {
	params := map[string]any{
		"url":     "https://api.example.com",
		"count":   float64(3),
		"flag":    true,
		"nested":  map[string]any{"plain": "text"},
		"listing": []any{"a", "b"},
	}
	e := New()
	out, err := e.ResolveParams(params, testVars())
	require.NoError(t, err)
	assert.Equal(t, params, out)
}

func TestFormattingRules(t *testing.T) {
	e := New()
	vars := testVars()
	vars["variables"] = map[string]any{
		"nothing": nil,
		"obj":     map[string]any{"a": float64(1)},
		"half":    float64(0.5),
	}

	out, err := e.ResolveString("[{{variables.nothing}}]", vars)
	require.NoError(t, err)
	assert.Equal(t, "[]", out, "null renders empty")

	out, err = e.ResolveString("{{variables.obj}}", vars)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out, "structured values render as JSON")

	out, err = e.ResolveString("{{variables.half}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "0.5", out)
}

func TestHelpers(t *testing.T) {
	e := New()
	vars := testVars()

	cases := map[string]string{
		`{{lower("LOUD")}}`:                          "loud",
		`{{trim("  x  ")}}`:                          "x",
		`{{length(trigger.payload.labels)}}`:         "2",
		`{{add(40, 2)}}`:                             "42",
		`{{subtract(50, 8)}}`:                        "42",
		`{{multiply(6, 7)}}`:                         "42",
		`{{divide(84, 2)}}`:                          "42",
		`{{round(3.14159, 2)}}`:                      "3.14",
		`{{join(trigger.payload.labels, ", ")}}`:     "bug, backend",
		`{{first(trigger.payload.labels)}}`:          "bug",
		`{{last(trigger.payload.labels)}}`:           "backend",
		`{{if(trigger.payload.pull_request.merged, "merged", "open")}}`: "open",
		`{{default(missing_value, "fallback")}}`:     "fallback",
		`{{urlEncode("a b&c")}}`:                     "a+b%26c",
		`{{urlDecode("a+b%26c")}}`:                   "a b&c",
		`{{toJson(trigger.payload.labels)}}`:         `["bug","backend"]`,
		`{{formatDate("2026-03-01T12:30:00Z", "date")}}`: "2026-03-01",
		`{{addDays("2026-03-01T00:00:00Z", 2)}}`:     "2026-03-03T00:00:00Z",
	}
	for expr, want := range cases {
		out, err := e.ResolveString(expr, vars)
		require.NoError(t, err, "expression %s", expr)
		assert.Equal(t, want, out, "expression %s", expr)
	}
}

func TestDefaultHelperWithMissingPath(t *testing.T) {
	// default()'s subject argument tolerates a miss even in strict mode;
	// that is the whole point of the helper. Other helpers stay strict.
	e := New()
	out, err := e.ResolveString(`{{default(absent.path, "d")}}`, testVars())
	require.NoError(t, err)
	assert.Equal(t, "d", out)

	_, err = e.ResolveString(`{{upper(absent.path)}}`, testVars())
	require.Error(t, err)
}

func TestDivideByZero(t *testing.T) {
	e := New()
	_, err := e.ResolveString("{{divide(1, 0)}}", testVars())
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrHelper, terr.Kind)
}

func TestUnknownHelper(t *testing.T) {
	e := New()
	_, err := e.ResolveString("{{sparkle(1)}}", testVars())
	require.Error(t, err)
}

func TestNowInjection(t *testing.T) {
	e := New()
	out, err := e.ResolveString("{{now.year}}", map[string]any{})
	require.NoError(t, err)
	assert.Regexp(t, `^20\d\d$`, out)
}

func TestSecretsAbsentFromNamespace(t *testing.T) {
	// The engine builds the variable bundle without secrets; a template
	// reaching for them resolves nothing.
	e := New(WithMode(ModeLenient))
	out, err := e.ResolveString("{{secrets.api_token}}", testVars())
	require.NoError(t, err)
	assert.Equal(t, "{{secrets.api_token}}", out)
}
