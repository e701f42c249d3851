package executors

import (
	"context"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/expression"
)

// EndExecutor projects state into the final output document. Without
// declared outputs every non-reserved variable is projected.
type EndExecutor struct{}

func (EndExecutor) Type() flowgraph.NodeType {
	return flowgraph.NodeTypeEnd
}

func (EndExecutor) Execute(ctx context.Context, node *flowgraph.Node, state flowgraph.StateReader, ectx *flowgraph.ExecutionContext) (*flowgraph.NodeResult, error) {
	var cfg flowgraph.EndConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, configError(node, err)
	}

	vars := state.Variables()
	var output map[string]any
	if len(cfg.Outputs) == 0 {
		output = flowgraph.PublicVariables(vars)
	} else {
		data := ectx.TemplateData(state, node)
		output = make(map[string]any, len(cfg.Outputs))
		for _, out := range cfg.Outputs {
			if out.Template != "" {
				text, err := renderText(ctx, node, "output "+out.Name, out.Template, data)
				if err != nil {
					return nil, err
				}
				output[out.Name] = text
				continue
			}
			path := out.Variable
			if path == "" {
				path = out.Name
			}
			value, _ := expression.Lookup(vars, path)
			output[out.Name] = value
		}
	}
	return &flowgraph.NodeResult{
		Status:     flowgraph.NodeStatusCompleted,
		Output:     output,
		IsTerminal: true,
	}, nil
}
