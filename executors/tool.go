package executors

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/flowgraph"
)

// ToolExecutor invokes a single named tool with templated parameters.
type ToolExecutor struct {
	Tools ToolInvoker
}

func (t *ToolExecutor) Type() flowgraph.NodeType {
	return flowgraph.NodeTypeTool
}

func (t *ToolExecutor) Execute(ctx context.Context, node *flowgraph.Node, state flowgraph.StateReader, ectx *flowgraph.ExecutionContext) (*flowgraph.NodeResult, error) {
	var cfg flowgraph.ToolConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, configError(node, err)
	}
	if t.Tools == nil {
		return nil, flowgraph.Errorf(flowgraph.CodeToolNotFound, "no tool invoker configured for tool %q", cfg.Tool)
	}

	data := ectx.TemplateData(state, node)
	rendered, err := renderValue(ctx, node, "parameters", cfg.Parameters, data)
	if err != nil {
		return nil, err
	}
	params, _ := rendered.(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	result, err := t.Tools.InvokeTool(ctx, cfg.Tool, params)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", cfg.Tool, err)
	}
	out := &flowgraph.NodeResult{Status: flowgraph.NodeStatusCompleted, Output: result}
	if cfg.OutputVariable != "" {
		out.StateUpdates = map[string]any{cfg.OutputVariable: result}
	}
	return out, nil
}
