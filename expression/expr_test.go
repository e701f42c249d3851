package expression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExprEngineEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		env    map[string]any
		want   any
		truthy bool
	}{
		{
			name:   "numeric comparison",
			code:   "value > 10",
			env:    map[string]any{"value": 15},
			want:   true,
			truthy: true,
		},
		{
			name:   "float against int",
			code:   "value > 10",
			env:    map[string]any{"value": 9.5},
			want:   false,
			truthy: false,
		},
		{
			name:   "member access and logic",
			code:   `user.role == "admin" && user.active`,
			env:    map[string]any{"user": map[string]any{"role": "admin", "active": true}},
			want:   true,
			truthy: true,
		},
		{
			name:   "membership",
			code:   `status in ["open", "pending"]`,
			env:    map[string]any{"status": "pending"},
			want:   true,
			truthy: true,
		},
		{
			name:   "string operators",
			code:   `title contains "draft" or title startsWith "WIP"`,
			env:    map[string]any{"title": "WIP: release notes"},
			want:   true,
			truthy: true,
		},
		{
			name:   "ternary",
			code:   `score >= 0.8 ? "approve" : "revise"`,
			env:    map[string]any{"score": 0.5},
			want:   "revise",
			truthy: true,
		},
		{
			name:   "undefined variable is nil",
			code:   "missing",
			env:    map[string]any{},
			want:   nil,
			truthy: false,
		},
	}

	engine := NewExprEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := engine.Compile(context.Background(), tt.code)
			require.NoError(t, err)
			value, err := script.Evaluate(context.Background(), tt.env)
			require.NoError(t, err)
			require.Equal(t, tt.want, value.Value())
			require.Equal(t, tt.truthy, value.IsTruthy())
		})
	}
}

func TestExprEngineVariablesShadowBuiltinNames(t *testing.T) {
	engine := NewExprEngine()
	env := map[string]any{"count": 3, "max": 10, "len": "short", "type": "invoice"}
	for code, want := range map[string]any{
		"count > 2":           true,
		"max - count":         7,
		`len == "short"`:      true,
		`type == "invoice"`:   true,
		"count < max ? 1 : 0": 1,
	} {
		t.Run(code, func(t *testing.T) {
			script, err := engine.Compile(context.Background(), code)
			require.NoError(t, err)
			value, err := script.Evaluate(context.Background(), env)
			require.NoError(t, err)
			require.Equal(t, want, value.Value())
		})
	}
}

func TestExprEngineRejectsOutsideGrammar(t *testing.T) {
	engine := NewExprEngine()
	for _, code := range []string{
		`len(items) > 2`,
		`upper(name)`,
		`filter(items, # > 1)`,
		`let x = 1; x`,
		`user.Name()`,
		`items | map(# * 2)`,
	} {
		t.Run(code, func(t *testing.T) {
			_, err := engine.Compile(context.Background(), code)
			require.Error(t, err)
		})
	}
}

func TestExprEngineCachesScripts(t *testing.T) {
	engine := NewExprEngine()
	first, err := engine.Compile(context.Background(), "a == 1")
	require.NoError(t, err)
	second, err := engine.Compile(context.Background(), " a == 1 ")
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op    Operator
		left  any
		right any
		want  bool
	}{
		{OpEquals, 15, 15.0, true},
		{OpEquals, "15", 15, true},
		{OpEquals, "yes", "yes", true},
		{OpEquals, true, "true", true},
		{OpNotEquals, "a", "b", true},
		{OpGreaterThan, 15, 10, true},
		{OpGreaterThanOrEqual, "10", 10, true},
		{OpLessThan, 3.5, 4, true},
		{OpLessThanOrEqual, 5, 4, false},
		{OpContains, "hello world", "world", true},
		{OpContains, []any{"a", "b"}, "b", true},
		{OpNotContains, []any{"a", "b"}, "c", true},
		{OpMatches, "order-123", `^order-\d+$`, true},
		{OpIn, "b", []any{"a", "b"}, true},
		{OpNotIn, "z", []any{"a", "b"}, true},
		{OpExists, nil, nil, false},
		{OpNotExists, nil, nil, true},
	}
	for _, tt := range tests {
		got, err := Compare(tt.op, tt.left, tt.right)
		require.NoError(t, err, "%s %v %v", tt.op, tt.left, tt.right)
		require.Equal(t, tt.want, got, "%s %v %v", tt.op, tt.left, tt.right)
	}

	_, err := Compare(OpGreaterThan, map[string]any{}, 1)
	require.Error(t, err)
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("not_equals")
	require.NoError(t, err)
	require.Equal(t, OpNotEquals, op)

	op, err = ParseOperator(">=")
	require.NoError(t, err)
	require.Equal(t, OpGreaterThanOrEqual, op)

	_, err = ParseOperator("between")
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"tags": []any{"a", map[string]any{"name": "b"}},
		},
		"count": 3,
	}

	v, ok := Lookup(data, "user.tags[1].name")
	require.True(t, ok)
	require.Equal(t, "b", v)

	v, ok = Lookup(data, "user.tags.0")
	require.True(t, ok)
	require.Equal(t, "a", v)

	_, ok = Lookup(data, "user.missing")
	require.False(t, ok)

	_, ok = Lookup(data, "count.value")
	require.False(t, ok)

	_, err := SplitPath("user.tags[x]")
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "15", Format(15.0))
	require.Equal(t, "1.5", Format(1.5))
	require.Equal(t, "", Format(nil))
	require.Equal(t, `{"a":1}`, Format(map[string]any{"a": 1}))
	require.Equal(t, `["x","y"]`, Format([]any{"x", "y"}))
}
