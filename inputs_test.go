package flowgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveInputs(t *testing.T) {
	cfg := &StartConfig{Inputs: []*Input{
		{Name: "topic", Type: "string", Required: true},
		{Name: "count", Type: "integer", Default: 3},
		{Name: "tags", Type: "array"},
	}}

	t.Run("defaults fill absent inputs", func(t *testing.T) {
		resolved, err := ResolveInputs(cfg, map[string]any{"topic": "go"})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"topic": "go", "count": 3}, resolved)
	})

	t.Run("payload is not modified", func(t *testing.T) {
		payload := map[string]any{"topic": "go"}
		_, err := ResolveInputs(cfg, payload)
		require.NoError(t, err)
		require.Equal(t, map[string]any{"topic": "go"}, payload)
	})

	t.Run("missing required input", func(t *testing.T) {
		_, err := ResolveInputs(cfg, map[string]any{"count": 1})
		require.True(t, HasCode(err, CodeMissingRequiredInput))
		require.Equal(t, []string{"topic"}, ClassifyError(err).Details)
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := ResolveInputs(cfg, map[string]any{"topic": 42})
		require.True(t, HasCode(err, CodeInvalidInput))
		require.Contains(t, err.Error(), `input "topic" must be of type string`)
	})

	t.Run("whole floats count as integers", func(t *testing.T) {
		_, err := ResolveInputs(cfg, map[string]any{"topic": "go", "count": 4.0})
		require.NoError(t, err)
		_, err = ResolveInputs(cfg, map[string]any{"topic": "go", "count": 4.5})
		require.True(t, HasCode(err, CodeInvalidInput))
	})

	t.Run("undeclared fields pass unless strict", func(t *testing.T) {
		payload := map[string]any{"topic": "go", "extra": true}
		resolved, err := ResolveInputs(cfg, payload)
		require.NoError(t, err)
		require.Equal(t, true, resolved["extra"])

		strict := &StartConfig{Inputs: cfg.Inputs, Strict: true}
		_, err = ResolveInputs(strict, payload)
		require.True(t, HasCode(err, CodeInvalidInput))
		require.Contains(t, err.Error(), `input "extra" is not declared`)
	})

	t.Run("no declared inputs", func(t *testing.T) {
		resolved, err := ResolveInputs(nil, nil)
		require.NoError(t, err)
		require.Empty(t, resolved)
	})
}

func TestMatchesType(t *testing.T) {
	tests := []struct {
		typ   string
		value any
		ok    bool
	}{
		{"", struct{}{}, true},
		{"any", nil, true},
		{"string", "x", true},
		{"string", 1, false},
		{"number", 1, true},
		{"number", 1.5, true},
		{"number", "1", false},
		{"integer", int64(7), true},
		{"boolean", false, true},
		{"boolean", "false", false},
		{"object", map[string]any{}, true},
		{"object", []any{}, false},
		{"array", []any{1}, true},
		{"array", []string{"a"}, true},
		{"unknown", "x", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.ok, matchesType(tt.typ, tt.value), "%s %#v", tt.typ, tt.value)
	}
}
