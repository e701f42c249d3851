package executors

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/expression"
)

// DecisionExecutor picks a branch label from a boolean expression or an
// ordered list of conditions. It never changes state.
type DecisionExecutor struct {
	Compiler expression.Compiler
}

// NewDecisionExecutor returns a decision executor with its own expression
// cache.
func NewDecisionExecutor() *DecisionExecutor {
	return &DecisionExecutor{Compiler: expression.NewExprEngine()}
}

func (d *DecisionExecutor) Type() flowgraph.NodeType {
	return flowgraph.NodeTypeDecision
}

func (d *DecisionExecutor) Execute(ctx context.Context, node *flowgraph.Node, state flowgraph.StateReader, ectx *flowgraph.ExecutionContext) (*flowgraph.NodeResult, error) {
	var cfg flowgraph.DecisionConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, configError(node, err)
	}
	env := ectx.TemplateData(state, node)

	if cfg.Expression != "" {
		value, err := expression.Evaluate(ctx, d.Compiler, cfg.Expression, env)
		if err != nil {
			return nil, expressionError(node, cfg.Expression, err)
		}
		branch := flowgraph.BranchFalse
		if value.IsTruthy() {
			branch = flowgraph.BranchTrue
		}
		return decided(branch, value.Value(), -1), nil
	}

	for i, cond := range cfg.Conditions {
		matched, err := d.evaluate(ctx, node, cond, state, env)
		if err != nil {
			return nil, err
		}
		if matched {
			return decided(cond.Branch, nil, i), nil
		}
	}
	branch := cfg.Default
	if branch == "" {
		branch = flowgraph.BranchDefault
	}
	return decided(branch, nil, -1), nil
}

func (d *DecisionExecutor) evaluate(ctx context.Context, node *flowgraph.Node, cond *flowgraph.Condition, state flowgraph.StateReader, env map[string]any) (bool, error) {
	if cond.Expression != "" {
		value, err := expression.Evaluate(ctx, d.Compiler, cond.Expression, env)
		if err != nil {
			return false, expressionError(node, cond.Expression, err)
		}
		return value.IsTruthy(), nil
	}
	op, err := expression.ParseOperator(cond.Operator)
	if err != nil {
		return false, configError(node, err)
	}
	left, found := state.Lookup(cond.Variable)
	switch op {
	case expression.OpExists:
		return found, nil
	case expression.OpNotExists:
		return !found, nil
	}
	matched, err := expression.Compare(op, left, cond.Value)
	if err != nil {
		return false, &flowgraph.Error{
			Kind:    flowgraph.KindPermanent,
			Code:    flowgraph.CodeExpression,
			NodeID:  node.ID,
			Message: fmt.Sprintf("condition on %q: %v", cond.Variable, err),
			Wrapped: err,
		}
	}
	return matched, nil
}

func decided(branch string, value any, condition int) *flowgraph.NodeResult {
	output := map[string]any{"branch": branch}
	if value != nil {
		output["value"] = value
	}
	if condition >= 0 {
		output["condition"] = condition
	}
	return &flowgraph.NodeResult{Status: flowgraph.NodeStatusCompleted, Output: output, Branch: branch}
}

func expressionError(node *flowgraph.Node, source string, err error) error {
	return &flowgraph.Error{
		Kind:    flowgraph.KindPermanent,
		Code:    flowgraph.CodeExpression,
		NodeID:  node.ID,
		Message: fmt.Sprintf("expression %q: %v", source, err),
		Wrapped: err,
	}
}
