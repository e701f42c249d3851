package executors

import (
	"context"
	"errors"
	"maps"

	"github.com/deepnoodle-ai/flowgraph"
)

// StartExecutor seeds the variable state from the initial payload, applying
// input defaults and required-field validation.
type StartExecutor struct{}

func (StartExecutor) Type() flowgraph.NodeType {
	return flowgraph.NodeTypeStart
}

func (StartExecutor) Execute(ctx context.Context, node *flowgraph.Node, state flowgraph.StateReader, ectx *flowgraph.ExecutionContext) (*flowgraph.NodeResult, error) {
	var cfg flowgraph.StartConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, configError(node, err)
	}
	resolved, err := flowgraph.ResolveInputs(&cfg, state.Inputs())
	if err != nil {
		var structured *flowgraph.Error
		if errors.As(err, &structured) {
			return nil, structured.WithNode(node.ID)
		}
		return nil, err
	}
	return &flowgraph.NodeResult{
		Status:       flowgraph.NodeStatusCompleted,
		Output:       maps.Clone(resolved),
		StateUpdates: resolved,
	}, nil
}
