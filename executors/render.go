package executors

import (
	"context"
	"regexp"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/expression"
	"github.com/deepnoodle-ai/flowgraph/template"
)

// singleReference matches a value that is exactly one variable reference,
// such as "{{ user.tags }}". Such values keep the referenced value's type
// instead of being rendered to text.
var singleReference = regexp.MustCompile(`^\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+|\[[0-9]+\])*)\s*\}\}$`)

// renderText renders a template against data. Failures are permanent
// TEMPLATE_ERROR errors attributed to the node.
func renderText(ctx context.Context, node *flowgraph.Node, field, text string, data map[string]any) (string, error) {
	out, err := template.Render(ctx, text, data)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", templateError(node, field, err)
	}
	return out, nil
}

// renderValue renders every string inside a nested value.
func renderValue(ctx context.Context, node *flowgraph.Node, field string, value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if m := singleReference.FindStringSubmatch(v); m != nil {
			resolved, _ := expression.Lookup(data, m[1])
			return resolved, nil
		}
		return renderText(ctx, node, field, v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			rendered, err := renderValue(ctx, node, field+"."+k, item, data)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := renderValue(ctx, node, field, item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	}
	return value, nil
}

func templateError(node *flowgraph.Node, field string, err error) error {
	return &flowgraph.Error{
		Kind:    flowgraph.KindPermanent,
		Code:    flowgraph.CodeTemplate,
		NodeID:  node.ID,
		Message: field + ": " + err.Error(),
		Wrapped: err,
	}
}

func configError(node *flowgraph.Node, err error) error {
	return &flowgraph.Error{
		Kind:    flowgraph.KindPermanent,
		Code:    flowgraph.CodeValidation,
		NodeID:  node.ID,
		Message: err.Error(),
		Wrapped: err,
	}
}
