package flowgraph

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// NodeExecutor implements the run-time behavior of one node type.
// Implementations never mutate state; every change is expressed through the
// returned result. A returned error fails the attempt and is classified with
// ClassifyError to decide whether it may be retried.
type NodeExecutor interface {
	Type() NodeType
	Execute(ctx context.Context, node *Node, state StateReader, ectx *ExecutionContext) (*NodeResult, error)
}

// NodeResult is what an executor reports back to the engine.
type NodeResult struct {
	Status       NodeStatus
	Output       any
	StateUpdates map[string]any
	IsTerminal   bool
	Branch       string
	// Pause asks the engine to suspend the execution until a human responds.
	Pause *HumanRequest
}

// HumanRequest is the checkpoint payload produced by a human node.
type HumanRequest struct {
	Message        string         `json:"message"`
	Options        []string       `json:"options,omitempty"`
	InputSchema    map[string]any `json:"input_schema,omitempty"`
	Display        map[string]any `json:"display,omitempty"`
	OutputVariable string         `json:"output_variable"`
}

// ExecutionContext carries per-execution information into executors.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	OwnerID     string
	Workflow    *Workflow
	// SelectedModel is the model the user picked when creating the
	// execution, if any.
	SelectedModel string
	// DefaultModel is the engine-wide default model.
	DefaultModel string
	// Attempt counts from 1 for the first try of the current node.
	Attempt int
	Logger  *slog.Logger
	Sources *SourceCache
}

// TemplateData returns the data agent, tool and human templates render
// against: the variable state plus the reserved counters.
func (c *ExecutionContext) TemplateData(state StateReader, node *Node) map[string]any {
	data := state.Variables()
	if data == nil {
		data = map[string]any{}
	}
	data[VarCurrentStep] = state.Step() + 1
	data[VarCurrentNodeIteration] = state.Iteration(node.ID) + 1
	if c != nil && c.Workflow != nil {
		data[VarTotalNodes] = len(c.Workflow.Nodes())
	}
	return data
}

// ExecutorSet dispatches node types to their executors.
type ExecutorSet struct {
	executors map[NodeType]NodeExecutor
}

// NewExecutorSet returns a set containing the given executors. A later
// executor for the same type replaces an earlier one.
func NewExecutorSet(executors ...NodeExecutor) *ExecutorSet {
	s := &ExecutorSet{executors: make(map[NodeType]NodeExecutor, len(executors))}
	for _, e := range executors {
		s.executors[e.Type()] = e
	}
	return s
}

// Get returns the executor for a node type. Unknown types yield an
// UNKNOWN_NODE_TYPE error.
func (s *ExecutorSet) Get(t NodeType) (NodeExecutor, error) {
	if e, ok := s.executors[t]; ok {
		return e, nil
	}
	return nil, Errorf(CodeUnknownNodeType, "no executor registered for node type %q", t)
}

// Types returns the registered node types.
func (s *ExecutorSet) Types() []NodeType {
	return slices.Sorted(maps.Keys(s.executors))
}
