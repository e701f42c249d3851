package flowgraph

import (
	"fmt"
	"time"

	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

// NodeType is the closed set of node kinds the engine can execute.
type NodeType string

const (
	NodeTypeStart    NodeType = "start"
	NodeTypeEnd      NodeType = "end"
	NodeTypeAgent    NodeType = "agent"
	NodeTypeTool     NodeType = "tool"
	NodeTypeDecision NodeType = "decision"
	NodeTypeHuman    NodeType = "human"
)

// NodeTypes lists every supported node type.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeAgent,
	NodeTypeTool,
	NodeTypeDecision,
	NodeTypeHuman,
}

// Valid reports whether t is one of the supported node types.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Policy controls how the engine runs a single node.
type Policy struct {
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries    int           `json:"retries,omitempty" yaml:"retries,omitempty"`
	RetryDelay time.Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
}

// Node is a stateless template for one step of a workflow. Type-specific
// settings live in Config and are decoded by the matching executor.
type Node struct {
	ID            string         `json:"id" yaml:"id"`
	Type          NodeType       `json:"type" yaml:"type"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Policy        Policy         `json:"policy,omitempty" yaml:"policy,omitempty"`
	Optional      bool           `json:"optional,omitempty" yaml:"optional,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Checkpoint    bool           `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
}

// DisplayName returns the node name, falling back to its id.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// DecodeConfig decodes the node's configuration map into dst.
func (n *Node) DecodeConfig(dst any) error {
	if n.Config == nil {
		return nil
	}
	if err := xjson.Convert(n.Config, dst); err != nil {
		return fmt.Errorf("invalid %s config for node %q: %w", n.Type, n.ID, err)
	}
	return nil
}

// Edge connects two nodes. An edge with no condition always matches. A
// decision node's edges are matched by Branch, or Default when no other edge
// matched. Expression edges match when the expression is truthy against the
// variable state.
type Edge struct {
	From       string `json:"from" yaml:"from"`
	To         string `json:"to" yaml:"to"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
	Branch     string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Default    bool   `json:"default,omitempty" yaml:"default,omitempty"`
}

// Unconditional reports whether the edge always matches.
func (e *Edge) Unconditional() bool {
	return e.Expression == "" && e.Branch == "" && !e.Default
}

func (e *Edge) String() string {
	switch {
	case e.Default:
		return fmt.Sprintf("%s -> %s [default]", e.From, e.To)
	case e.Branch != "":
		return fmt.Sprintf("%s -> %s [branch=%s]", e.From, e.To, e.Branch)
	case e.Expression != "":
		return fmt.Sprintf("%s -> %s [%s]", e.From, e.To, e.Expression)
	}
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}
