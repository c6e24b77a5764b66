package fieldpath

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload() map[string]any {
	return map[string]any{
		"action": "opened",
		"number": float64(42),
		"pull_request": map[string]any{
			"title":  "Add retries",
			"merged": false,
			"labels": []any{
				map[string]any{"name": "bug", "color": "red"},
				map[string]any{"name": "backend", "color": "blue"},
			},
		},
		"commits": []any{
			map[string]any{"id": "a1", "author": map[string]any{"login": "alice"}},
			map[string]any{"id": "b2", "author": map[string]any{"login": "bob"}},
			map[string]any{"id": "c3"},
		},
		"sender":   map[string]any{"login": "alice", "site_admin": nil},
		"installs": []any{float64(1), float64(2), float64(3)},
	}
}

func TestResolveProperty(t *testing.T) {
	v, err := Resolve(payload(), "pull_request.title")
	require.NoError(t, err)
	assert.Equal(t, "Add retries", v)
}

func TestResolveIndex(t *testing.T) {
	v, err := Resolve(payload(), "pull_request.labels[1].name")
	require.NoError(t, err)
	assert.Equal(t, "backend", v)
}

func TestResolveNegativeIndex(t *testing.T) {
	v, err := Resolve(payload(), "commits[-1].id")
	require.NoError(t, err)
	assert.Equal(t, "c3", v)
}

func TestResolveIndexOutOfBounds(t *testing.T) {
	v, err := Resolve(payload(), "commits[10].id", WithDefault("none"))
	require.NoError(t, err)
	assert.Equal(t, "none", v)
}

func TestResolveWildcardTerminal(t *testing.T) {
	v, err := Resolve(payload(), "installs[*]")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, v)
}

func TestResolveWildcardProjection(t *testing.T) {
	v, err := Resolve(payload(), "commits[*].author.login")
	require.NoError(t, err)
	// The commit without an author is dropped, order preserved.
	assert.Equal(t, []any{"alice", "bob"}, v)
}

func TestResolveFilter(t *testing.T) {
	v, err := Resolve(payload(), `pull_request.labels[name="bug"].color`)
	require.NoError(t, err)
	assert.Equal(t, []any{"red"}, v)
}

func TestResolveFilterNoMatch(t *testing.T) {
	v, err := Resolve(payload(), `pull_request.labels[name="docs"]`)
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)
}

func TestResolveMissingGraceful(t *testing.T) {
	v, err := Resolve(payload(), "pull_request.base.ref")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Resolve(payload(), "pull_request.base.ref", WithDefault("main"))
	require.NoError(t, err)
	assert.Equal(t, "main", v)
}

func TestResolveMissingStrict(t *testing.T) {
	_, err := Resolve(payload(), "pull_request.base.ref", Strict())
	require.Error(t, err)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "pull_request.base.ref", re.Path)
}

func TestResolveNullHandling(t *testing.T) {
	// Present null resolves to nil by default.
	v, err := Resolve(payload(), "sender.site_admin")
	require.NoError(t, err)
	assert.Nil(t, v)

	// With NullIsMissing the default takes over.
	v, err = Resolve(payload(), "sender.site_admin", NullIsMissing(), WithDefault(false))
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestResolveStructLookup(t *testing.T) {
	type repo struct {
		FullName string
		Private  bool
	}
	v, err := Resolve(map[string]any{"repo": &repo{FullName: "octo/hello"}}, "repo.FullName")
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", v)
}

func TestResolveInvalidPathGraceful(t *testing.T) {
	for _, path := range []string{"", ".", "a..b", "a[", "a[xyz]", "a[name=unquoted]", "a.b.", "[0]extra"} {
		v, err := Resolve(payload(), path, WithDefault("fallback"))
		require.NoError(t, err, "path %q", path)
		assert.Equal(t, "fallback", v, "path %q", path)
	}
}

func TestResolveDepthCap(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}
	_, err := Resolve(data, "a.b.c", Strict(), WithMaxDepth(2))
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	assert.True(t, Exists(payload(), "sender.site_admin"), "present null still exists")
	assert.False(t, Exists(payload(), "sender.email"))
}

func TestParseErrors(t *testing.T) {
	cases := []string{"", "a..b", "a[1", "a]1[", "a[name=]", "1abc"}
	for _, c := range cases {
		_, err := Parse(c)
		assert.Error(t, err, "path %q", c)
	}
}

// TestGracefulNeverErrors is the §resolver safety property: graceful mode
// returns (default, nil) for arbitrary path strings over arbitrary maps.
func TestGracefulNeverErrors(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("graceful resolve never errors", prop.ForAll(
		func(path string, key string, val string) bool {
			data := map[string]any{key: val}
			_, err := Resolve(data, path)
			return err == nil
		},
		gen.AnyString(),
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.Property("valid single-key path round-trips", prop.ForAll(
		func(key string, val string) bool {
			if !validIdentifier(key) {
				return true
			}
			data := map[string]any{key: val}
			got, err := Resolve(data, key)
			return err == nil && got == val
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
