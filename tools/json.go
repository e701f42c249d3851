package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/flowgraph/expression"
	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
	"github.com/deepnoodle-ai/flowgraph/retry"
)

type jsonParams struct {
	Operation string `json:"operation"`
	Data      any    `json:"data"`
	Query     string `json:"query"`
	MergeWith any    `json:"merge_with"`
}

// NewJSONTool parses, formats, queries, merges and validates JSON. Data may
// be a JSON string or an already decoded value.
func NewJSONTool() Tool {
	return Typed("json", "Parses, formats, queries, merges and validates JSON documents.", func(ctx context.Context, params jsonParams) (any, error) {
		op := strings.ToLower(params.Operation)
		if op == "" {
			op = "parse"
		}
		if op == "validate" {
			_, err := decodeJSON(params.Data)
			return err == nil, nil
		}
		data, err := decodeJSON(params.Data)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		switch op {
		case "parse":
			return data, nil
		case "stringify":
			formatted, err := xjson.MarshalIndent(data, "", "  ")
			if err != nil {
				return nil, retry.Permanent(err)
			}
			return string(formatted), nil
		case "query":
			query := strings.TrimPrefix(params.Query, ".")
			if query == "" {
				return data, nil
			}
			value, ok := expression.Lookup(data, query)
			if !ok {
				return nil, retry.Permanent(fmt.Errorf("path %q not found", params.Query))
			}
			return value, nil
		case "merge":
			other, err := decodeJSON(params.MergeWith)
			if err != nil {
				return nil, retry.Permanent(fmt.Errorf("merge_with: %w", err))
			}
			left, lok := data.(map[string]any)
			right, rok := other.(map[string]any)
			if !lok || !rok {
				return nil, retry.Permanent(errors.New("merge requires two objects"))
			}
			return mergeObjects(left, right), nil
		}
		return nil, retry.Permanent(fmt.Errorf("unsupported json operation %q", params.Operation))
	})
}

func decodeJSON(value any) (any, error) {
	text, ok := value.(string)
	if !ok {
		if value == nil {
			return nil, errors.New("'data' is required")
		}
		return value, nil
	}
	var out any
	if err := xjson.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return out, nil
}

// mergeObjects merges b over a, recursing into nested objects.
func mergeObjects(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k].(map[string]any); ok {
			if nested, ok := v.(map[string]any); ok {
				out[k] = mergeObjects(existing, nested)
				continue
			}
		}
		out[k] = v
	}
	return out
}
