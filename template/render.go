package template

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/flowgraph/expression"
)

// MissingVariableError is returned by strict templates that reference a
// variable absent from the data.
type MissingVariableError struct {
	Path string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template variable %q is not defined", e.Path)
}

type frame struct {
	this  any
	index int
	key   string
	first bool
	last  bool
}

type renderer struct {
	ctx    context.Context
	data   map[string]any
	strict bool
	frames []frame
	out    strings.Builder
}

// Render renders the template against data.
func (t *Template) Render(ctx context.Context, data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	r := &renderer{ctx: ctx, data: data, strict: t.strict}
	if err := r.renderNodes(t.nodes); err != nil {
		return "", err
	}
	return r.out.String(), nil
}

func (r *renderer) renderNodes(nodes []node) error {
	for _, n := range nodes {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		switch n := n.(type) {
		case *textNode:
			r.out.WriteString(n.text)
		case *varNode:
			value, ok := r.resolve(n.segments)
			if !ok {
				if r.strict {
					return &MissingVariableError{Path: n.path}
				}
				continue
			}
			r.out.WriteString(expression.Format(value))
		case *ifNode:
			truthy, err := r.evaluate(n.cond)
			if err != nil {
				return err
			}
			branch := n.otherwise
			if truthy {
				branch = n.then
			}
			if err := r.renderNodes(branch); err != nil {
				return err
			}
		case *eachNode:
			if err := r.renderEach(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *renderer) renderEach(n *eachNode) error {
	value, ok := r.resolve(n.segments)
	if !ok {
		if r.strict {
			return &MissingVariableError{Path: n.path}
		}
		return nil
	}
	items := iterate(value)
	for i, item := range items {
		r.frames = append(r.frames, frame{
			this:  item.value,
			index: i,
			key:   item.key,
			first: i == 0,
			last:  i == len(items)-1,
		})
		err := r.renderNodes(n.body)
		r.frames = r.frames[:len(r.frames)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) evaluate(c *condition) (bool, error) {
	if c.script == nil {
		value, ok := r.resolve(c.segments)
		if !ok {
			return false, nil
		}
		return expression.Truthy(value), nil
	}
	env := make(map[string]any, len(r.data)+1)
	for k, v := range r.data {
		env[k] = v
	}
	if len(r.frames) > 0 {
		top := r.frames[len(r.frames)-1]
		env["this"] = top.this
		if fields, ok := top.this.(map[string]any); ok {
			for k, v := range fields {
				env[k] = v
			}
		}
	}
	result, err := c.script.Evaluate(r.ctx, env)
	if err != nil {
		return false, fmt.Errorf("template condition %q: %w", c.source, err)
	}
	return result.IsTruthy(), nil
}

func (r *renderer) resolve(segments []string) (any, bool) {
	head, rest := segments[0], segments[1:]
	if strings.HasPrefix(head, "@") || head == "this" {
		if len(r.frames) == 0 {
			if head == "this" {
				return expression.LookupSegments(r.data, rest)
			}
			return nil, false
		}
		top := r.frames[len(r.frames)-1]
		switch head {
		case "this":
			return expression.LookupSegments(top.this, rest)
		case "@index":
			return top.index, len(rest) == 0
		case "@key":
			return top.key, len(rest) == 0 && top.key != ""
		case "@first":
			return top.first, len(rest) == 0
		case "@last":
			return top.last, len(rest) == 0
		}
		return nil, false
	}
	for i := len(r.frames) - 1; i >= 0; i-- {
		if fields, ok := r.frames[i].this.(map[string]any); ok {
			if value, found := expression.LookupSegments(fields, segments); found {
				return value, true
			}
		}
	}
	return expression.LookupSegments(r.data, segments)
}

type entry struct {
	key   string
	value any
}

// iterate returns the elements of a slice in order or the entries of a map
// sorted by key.
func iterate(value any) []entry {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		entries := make([]entry, len(v))
		for i, item := range v {
			entries[i] = entry{value: item}
		}
		return entries
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]entry, len(keys))
		for i, k := range keys {
			entries[i] = entry{key: k, value: v[k]}
		}
		return entries
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		entries := make([]entry, rv.Len())
		for i := range entries {
			entries[i] = entry{value: rv.Index(i).Interface()}
		}
		return entries
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		entries := make([]entry, len(keys))
		for i, k := range keys {
			entries[i] = entry{key: k.String(), value: rv.MapIndex(k).Interface()}
		}
		return entries
	}
	return nil
}
