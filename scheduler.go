package flowgraph

import (
	"context"
	"maps"

	"github.com/deepnoodle-ai/flowgraph/expression"
)

// Step is the scheduler's decision about what runs next.
type Step struct {
	// NodeID is the next node to execute. Empty when Terminal is set.
	NodeID string
	Node   *Node
	// Terminal is set once the current node is an end node.
	Terminal bool
	// Nodes lists every node eligible to run. The engine is sequential, so
	// it holds at most NodeID.
	Nodes []string
}

// Scheduler picks the next node of an execution from the graph and the
// current state.
type Scheduler struct {
	compiler expression.Compiler
}

// NewScheduler returns a scheduler using the shared expression cache.
func NewScheduler() *Scheduler {
	return &Scheduler{compiler: expressions}
}

// Next returns the next node to run. With no current node the start node is
// chosen. Otherwise the outbound edges of the current node are tried in
// declaration order and the first match wins; default edges are only
// considered once every other edge failed to match. Choosing a node that has
// already run its maximum number of iterations is an error.
func (s *Scheduler) Next(ctx context.Context, wf *Workflow, state *ExecutionState) (*Step, error) {
	if state.CurrentNode == "" {
		return s.step(wf, state, wf.Start())
	}
	current, ok := wf.Node(state.CurrentNode)
	if !ok {
		return nil, Errorf(CodeExecutionFailed, "current node %q is not part of workflow %q", state.CurrentNode, wf.ID())
	}
	if current.Type == NodeTypeEnd {
		return &Step{Terminal: true}, nil
	}

	edges := wf.Outbound(current.ID)
	var last *NodeOutput
	if out, ok := state.Outputs[current.ID]; ok {
		last = out
	}
	env := edgeEnv(state, last)

	for _, edge := range edges {
		if edge.Default {
			continue
		}
		matched, err := s.matches(ctx, edge, last, env)
		if err != nil {
			return nil, (&Error{
				Kind:    KindPermanent,
				Code:    CodeExpression,
				Message: err.Error(),
				Wrapped: err,
			}).WithNode(current.ID)
		}
		if matched {
			return s.stepTo(wf, state, edge.To)
		}
	}
	for _, edge := range edges {
		if edge.Default {
			return s.stepTo(wf, state, edge.To)
		}
	}
	branch := ""
	if last != nil {
		branch = last.Branch
	}
	return nil, &Error{
		Kind:    KindPermanent,
		Code:    CodeNoMatchingEdge,
		NodeID:  current.ID,
		Message: "no outbound edge matched",
		Details: map[string]any{"branch": branch, "edges": len(edges)},
	}
}

func (s *Scheduler) matches(ctx context.Context, edge *Edge, last *NodeOutput, env map[string]any) (bool, error) {
	switch {
	case edge.Branch != "":
		return last != nil && last.Branch == edge.Branch, nil
	case edge.Expression != "":
		value, err := expression.Evaluate(ctx, s.compiler, edge.Expression, env)
		if err != nil {
			return false, err
		}
		return value.IsTruthy(), nil
	}
	return true, nil
}

func (s *Scheduler) stepTo(wf *Workflow, state *ExecutionState, nodeID string) (*Step, error) {
	node, ok := wf.Node(nodeID)
	if !ok {
		return nil, Errorf(CodeExecutionFailed, "edge target %q is not part of workflow %q", nodeID, wf.ID())
	}
	return s.step(wf, state, node)
}

func (s *Scheduler) step(wf *Workflow, state *ExecutionState, node *Node) (*Step, error) {
	limit := wf.MaxIterations(node)
	if count := state.Iterations[node.ID]; limit > 0 && count >= limit {
		return nil, &Error{
			Kind:    KindPermanent,
			Code:    CodeIterationLimit,
			NodeID:  node.ID,
			Message: "node exceeded its iteration limit",
			Details: map[string]any{"iterations": count, "limit": limit},
		}
	}
	return &Step{NodeID: node.ID, Node: node, Nodes: []string{node.ID}}, nil
}

// edgeEnv is the environment edge expressions evaluate against: every
// variable plus "output" and "branch" from the node just completed.
func edgeEnv(state *ExecutionState, last *NodeOutput) map[string]any {
	env := maps.Clone(state.Variables)
	if env == nil {
		env = map[string]any{}
	}
	if last != nil {
		env["output"] = last.Output
		env["branch"] = last.Branch
	}
	return env
}
