// Package executors provides the built-in node executors.
package executors

import "github.com/deepnoodle-ai/flowgraph"

// Options wires the external collaborators used by agent and tool nodes.
type Options struct {
	LLM   LLMClient
	Tools ToolInvoker
}

// Defaults returns one executor for every node type.
func Defaults(opts Options) []flowgraph.NodeExecutor {
	return []flowgraph.NodeExecutor{
		StartExecutor{},
		EndExecutor{},
		&AgentExecutor{LLM: opts.LLM, Tools: opts.Tools},
		&ToolExecutor{Tools: opts.Tools},
		NewDecisionExecutor(),
		HumanExecutor{},
	}
}
