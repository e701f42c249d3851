// Package tools provides a catalogue of named tools that tool and agent nodes
// can invoke.
package tools

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
	"github.com/deepnoodle-ai/flowgraph/retry"
)

// Tool is a named operation with structured parameters.
type Tool interface {

	// Name returns the name tool nodes refer to.
	Name() string

	// Description is shown to models deciding whether to call the tool.
	Description() string

	// Invoke runs the tool.
	Invoke(ctx context.Context, params map[string]any) (any, error)
}

// Confirm the interfaces are implemented correctly.
var (
	_ Tool = (*funcTool)(nil)
	_ Tool = (*typedTool[any, any])(nil)
)

type funcTool struct {
	name        string
	description string
	fn          func(ctx context.Context, params map[string]any) (any, error)
}

// Func returns a Tool for the given function.
func Func(name, description string, fn func(ctx context.Context, params map[string]any) (any, error)) Tool {
	return &funcTool{name: name, description: description, fn: fn}
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }

func (t *funcTool) Invoke(ctx context.Context, params map[string]any) (any, error) {
	return t.fn(ctx, params)
}

type typedTool[TParams, TResult any] struct {
	name        string
	description string
	fn          func(ctx context.Context, params TParams) (TResult, error)
}

// Typed returns a Tool whose parameters are decoded into TParams before fn
// runs. Parameters that do not decode are a permanent error.
func Typed[TParams, TResult any](name, description string, fn func(ctx context.Context, params TParams) (TResult, error)) Tool {
	return &typedTool[TParams, TResult]{name: name, description: description, fn: fn}
}

func (t *typedTool[TParams, TResult]) Name() string        { return t.name }
func (t *typedTool[TParams, TResult]) Description() string { return t.description }

func (t *typedTool[TParams, TResult]) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var typed TParams
	if params != nil {
		if err := xjson.Convert(params, &typed); err != nil {
			return nil, retry.Permanent(fmt.Errorf("invalid parameters for tool %q: %w", t.name, err))
		}
	}
	return t.fn(ctx, typed)
}
