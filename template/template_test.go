package template

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRender(t *testing.T) {
	data := map[string]any{
		"name":  "Ada",
		"count": 3,
		"score": 0.92,
		"user": map[string]any{
			"address": map[string]any{"city": "London"},
			"admin":   true,
		},
		"items": []any{"a", "b", "c"},
		"people": []any{
			map[string]any{"name": "Grace", "role": "admiral"},
			map[string]any{"name": "Alan", "role": "mathematician"},
		},
		"tags":  map[string]any{"b": 2, "a": 1},
		"empty": []any{},
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "plain text", template: "hello", expected: "hello"},
		{name: "variable", template: "Hi {{name}}!", expected: "Hi Ada!"},
		{name: "whitespace inside tag", template: "{{ name }}", expected: "Ada"},
		{name: "number", template: "{{count}} items", expected: "3 items"},
		{name: "float", template: "{{score}}", expected: "0.92"},
		{name: "dotted path", template: "{{user.address.city}}", expected: "London"},
		{name: "index", template: "{{items[1]}}", expected: "b"},
		{name: "missing renders empty", template: "[{{missing}}]", expected: "[]"},
		{name: "if true", template: "{{#if user.admin}}yes{{/if}}", expected: "yes"},
		{name: "if false with else", template: "{{#if missing}}yes{{else}}no{{/if}}", expected: "no"},
		{name: "if expression", template: "{{#if count > 2}}many{{else}}few{{/if}}", expected: "many"},
		{name: "if empty list is falsy", template: "{{#if empty}}x{{else}}none{{/if}}", expected: "none"},
		{name: "each list", template: "{{#each items}}{{@index}}={{this}};{{/each}}", expected: "0=a;1=b;2=c;"},
		{name: "each objects", template: "{{#each people}}{{name}} ({{this.role}}){{#if @last}}.{{else}}, {{/if}}{{/each}}", expected: "Grace (admiral), Alan (mathematician)."},
		{name: "each map sorted by key", template: "{{#each tags}}{{@key}}:{{this}} {{/each}}", expected: "a:1 b:2 "},
		{name: "each falls back to root", template: "{{#each items}}{{name}}{{/each}}", expected: "AdaAdaAda"},
		{name: "first flag", template: "{{#each items}}{{#if @first}}>{{/if}}{{this}}{{/each}}", expected: ">abc"},
		{name: "expression inside each", template: "{{#each people}}{{#if role == \"admiral\"}}{{name}}{{/if}}{{/each}}", expected: "Grace"},
		{name: "nested blocks", template: "{{#if user.admin}}{{#each items}}{{this}}{{/each}}{{/if}}", expected: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Render(context.Background(), tt.template, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{name: "unclosed tag", template: "hello {{name"},
		{name: "empty tag", template: "{{}}"},
		{name: "unterminated if", template: "{{#if x}}yes"},
		{name: "unterminated each", template: "{{#each items}}x"},
		{name: "stray close", template: "text{{/if}}"},
		{name: "stray else", template: "{{else}}"},
		{name: "unknown block", template: "{{#with user}}{{/with}}"},
		{name: "helper call", template: "{{upper name}}"},
		{name: "if without condition", template: "{{#if }}x{{/if}}"},
		{name: "function in condition", template: "{{#if len(items) > 0}}x{{/if}}"},
		{name: "mismatched close", template: "{{#if x}}y{{/each}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.template)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
			assert.Error(t, Validate(tt.template))
		})
	}
}

func TestStrictMissingVariable(t *testing.T) {
	tmpl, err := Parse("Hello {{user.name}}", WithStrict())
	require.NoError(t, err)

	_, err = tmpl.Render(context.Background(), map[string]any{})
	var missing *MissingVariableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "user.name", missing.Path)

	out, err := tmpl.Render(context.Background(), map[string]any{"user": map[string]any{"name": "Lin"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello Lin", out)
}

func TestRenderHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tmpl, err := Parse("{{name}}")
	require.NoError(t, err)
	_, err = tmpl.Render(ctx, map[string]any{"name": "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderTextWithoutTagsIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Filter(func(s string) bool {
			return !strings.Contains(s, "{{")
		}).Draw(t, "text")
		out, err := Render(context.Background(), text, map[string]any{"x": 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != text {
			t.Fatalf("expected %q, got %q", text, out)
		}
	})
}

func TestRenderSubstitutesValuesVerbatim(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.String().Draw(t, "value")
		prefix := rapid.StringMatching(`[a-z ]{0,10}`).Draw(t, "prefix")
		out, err := Render(context.Background(), prefix+"{{v}}", map[string]any{"v": value})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != prefix+value {
			t.Fatalf("expected %q, got %q", prefix+value, out)
		}
	})
}
