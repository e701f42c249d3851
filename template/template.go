// Package template implements the prompt substitution mini-language used by
// agent, tool and human nodes.
//
// The grammar is deliberately narrow:
//
//	{{name}}                        variable lookup
//	{{user.address.city}}           dotted path access
//	{{items[0]}}                    index access
//	{{#if cond}}...{{else}}...{{/if}}
//	{{#each items}}{{@index}}: {{this.name}}{{/each}}
//
// Conditions are either a plain path (tested for truthiness) or an expression
// in the restricted expression grammar. Any other tag is a parse error.
package template

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/deepnoodle-ai/flowgraph/expression"
)

var pathPattern = regexp.MustCompile(`^(@index|@key|@first|@last|this|[A-Za-z_][A-Za-z0-9_]*)((\.[A-Za-z_][A-Za-z0-9_]*)|(\.[0-9]+)|(\[[0-9]+\]))*$`)

// SyntaxError describes a malformed template.
type SyntaxError struct {
	Offset  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template syntax error at offset %d: %s", e.Offset, e.Message)
}

type node interface{}

type textNode struct {
	text string
}

type varNode struct {
	path     string
	segments []string
	offset   int
}

type ifNode struct {
	cond      *condition
	then      []node
	otherwise []node
}

type eachNode struct {
	path     string
	segments []string
	body     []node
}

type condition struct {
	source   string
	segments []string
	script   expression.Script
}

// Template is a parsed template.
type Template struct {
	source string
	nodes  []node
	strict bool
}

// Option configures parsing.
type Option func(*Template)

// WithStrict makes rendering fail when a referenced variable is missing
// instead of rendering it as an empty string.
func WithStrict() Option {
	return func(t *Template) {
		t.strict = true
	}
}

var defaultCompiler = expression.NewExprEngine()

// Parse parses a template.
func Parse(source string, opts ...Option) (*Template, error) {
	t := &Template{source: source}
	for _, opt := range opts {
		opt(t)
	}
	p := &parser{source: source}
	nodes, closing, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	if closing != "" {
		return nil, &SyntaxError{Offset: p.pos, Message: fmt.Sprintf("unexpected {{%s}}", closing)}
	}
	t.nodes = nodes
	return t, nil
}

// Validate reports whether the source parses.
func Validate(source string) error {
	_, err := Parse(source)
	return err
}

// HasTags reports whether the source contains any template tags.
func HasTags(source string) bool {
	return strings.Contains(source, "{{")
}

// Source returns the original template text.
func (t *Template) Source() string {
	return t.source
}

// Render renders a template string against data in a single call.
func Render(ctx context.Context, source string, data map[string]any) (string, error) {
	if !HasTags(source) {
		return source, nil
	}
	t, err := Parse(source)
	if err != nil {
		return "", err
	}
	return t.Render(ctx, data)
}

type parser struct {
	source string
	pos    int
}

// parseUntil parses nodes until the end of input or a closing/else tag, which
// is returned without being consumed semantically.
func (p *parser) parseUntil() ([]node, string, error) {
	var nodes []node
	for p.pos < len(p.source) {
		open := strings.Index(p.source[p.pos:], "{{")
		if open < 0 {
			nodes = append(nodes, &textNode{text: p.source[p.pos:]})
			p.pos = len(p.source)
			break
		}
		if open > 0 {
			nodes = append(nodes, &textNode{text: p.source[p.pos : p.pos+open]})
		}
		tagStart := p.pos + open
		closeIdx := strings.Index(p.source[tagStart+2:], "}}")
		if closeIdx < 0 {
			return nil, "", &SyntaxError{Offset: tagStart, Message: "unclosed tag"}
		}
		tag := strings.TrimSpace(p.source[tagStart+2 : tagStart+2+closeIdx])
		p.pos = tagStart + 2 + closeIdx + 2

		switch {
		case tag == "":
			return nil, "", &SyntaxError{Offset: tagStart, Message: "empty tag"}
		case tag == "else" || tag == "/if" || tag == "/each":
			return nodes, tag, nil
		case strings.HasPrefix(tag, "#if "):
			n, err := p.parseIf(tagStart, strings.TrimSpace(tag[len("#if "):]))
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
		case strings.HasPrefix(tag, "#each "):
			n, err := p.parseEach(tagStart, strings.TrimSpace(tag[len("#each "):]))
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
		case strings.HasPrefix(tag, "#") || strings.HasPrefix(tag, "/"):
			return nil, "", &SyntaxError{Offset: tagStart, Message: fmt.Sprintf("unknown block %q", tag)}
		default:
			if !pathPattern.MatchString(tag) {
				return nil, "", &SyntaxError{Offset: tagStart, Message: fmt.Sprintf("invalid reference %q", tag)}
			}
			segments, err := expression.SplitPath(tag)
			if err != nil {
				return nil, "", &SyntaxError{Offset: tagStart, Message: err.Error()}
			}
			nodes = append(nodes, &varNode{path: tag, segments: segments, offset: tagStart})
		}
	}
	return nodes, "", nil
}

func (p *parser) parseIf(offset int, source string) (node, error) {
	cond, err := parseCondition(offset, source)
	if err != nil {
		return nil, err
	}
	n := &ifNode{cond: cond}
	body, closing, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	n.then = body
	if closing == "else" {
		body, closing, err = p.parseUntil()
		if err != nil {
			return nil, err
		}
		n.otherwise = body
	}
	if closing != "/if" {
		return nil, &SyntaxError{Offset: offset, Message: "unterminated {{#if}} block"}
	}
	return n, nil
}

func (p *parser) parseEach(offset int, source string) (node, error) {
	if !pathPattern.MatchString(source) {
		return nil, &SyntaxError{Offset: offset, Message: fmt.Sprintf("invalid each target %q", source)}
	}
	segments, err := expression.SplitPath(source)
	if err != nil {
		return nil, &SyntaxError{Offset: offset, Message: err.Error()}
	}
	body, closing, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	if closing != "/each" {
		return nil, &SyntaxError{Offset: offset, Message: "unterminated {{#each}} block"}
	}
	return &eachNode{path: source, segments: segments, body: body}, nil
}

func parseCondition(offset int, source string) (*condition, error) {
	if source == "" {
		return nil, &SyntaxError{Offset: offset, Message: "{{#if}} requires a condition"}
	}
	if pathPattern.MatchString(source) {
		segments, err := expression.SplitPath(source)
		if err != nil {
			return nil, &SyntaxError{Offset: offset, Message: err.Error()}
		}
		return &condition{source: source, segments: segments}, nil
	}
	script, err := defaultCompiler.Compile(context.Background(), source)
	if err != nil {
		return nil, &SyntaxError{Offset: offset, Message: err.Error()}
	}
	return &condition{source: source, script: script}, nil
}
