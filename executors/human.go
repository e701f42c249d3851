package executors

import (
	"context"

	"github.com/deepnoodle-ai/flowgraph"
)

// HumanExecutor builds the checkpoint payload of a human node and asks the
// engine to pause. The response is merged by the engine on resume.
type HumanExecutor struct{}

func (HumanExecutor) Type() flowgraph.NodeType {
	return flowgraph.NodeTypeHuman
}

func (HumanExecutor) Execute(ctx context.Context, node *flowgraph.Node, state flowgraph.StateReader, ectx *flowgraph.ExecutionContext) (*flowgraph.NodeResult, error) {
	var cfg flowgraph.HumanConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, configError(node, err)
	}
	message, err := renderText(ctx, node, "message", cfg.Message, ectx.TemplateData(state, node))
	if err != nil {
		return nil, err
	}
	var display map[string]any
	if len(cfg.DisplayVariables) > 0 {
		display = make(map[string]any, len(cfg.DisplayVariables))
		for _, name := range cfg.DisplayVariables {
			value, _ := state.Lookup(name)
			display[name] = value
		}
	}
	request := &flowgraph.HumanRequest{
		Message:        message,
		Options:        cfg.Options,
		InputSchema:    cfg.InputSchema,
		Display:        display,
		OutputVariable: cfg.ResponseVariable(node.ID),
	}
	return &flowgraph.NodeResult{
		Status: flowgraph.NodeStatusCompleted,
		Output: map[string]any{"message": message, "awaiting_response": true},
		Pause:  request,
	}, nil
}
