package flowgraph

import "fmt"

// Input declares a variable accepted by the start node.
type Input struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Output maps a state variable, or a rendered template, to a field of the
// final output document.
type Output struct {
	Name     string `json:"name" yaml:"name"`
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
}

// InputTypes are the type names accepted in an Input declaration.
var InputTypes = []string{"", "any", "string", "number", "integer", "boolean", "object", "array"}

// StartConfig configures a start node.
type StartConfig struct {
	Inputs []*Input `json:"inputs,omitempty"`
	// Strict rejects payload fields that are not declared as inputs.
	Strict bool `json:"strict,omitempty"`
}

// EndConfig configures an end node. With no outputs the final output is
// every non-reserved variable.
type EndConfig struct {
	Outputs []*Output `json:"outputs,omitempty"`
}

// AgentConfig configures an agent node.
type AgentConfig struct {
	Prompt         string   `json:"prompt"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Model          string   `json:"model,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	MaxIterations  int      `json:"max_iterations,omitempty"`
	OutputVariable string   `json:"output_variable,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
}

// ToolConfig configures a tool node.
type ToolConfig struct {
	Tool           string         `json:"tool"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	OutputVariable string         `json:"output_variable,omitempty"`
}

// Condition is one arm of a switch-style decision.
type Condition struct {
	Branch     string `json:"branch"`
	Variable   string `json:"variable,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Value      any    `json:"value,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// DecisionConfig configures a decision node. Either Expression is set, in
// which case the branch is "true" or "false", or Conditions are evaluated in
// order and the first match names the branch.
type DecisionConfig struct {
	Expression string       `json:"expression,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`
	Default    string       `json:"default,omitempty"`
}

// Branch labels produced by decision nodes.
const (
	BranchTrue    = "true"
	BranchFalse   = "false"
	BranchDefault = "default"
)

// Branches returns every label the decision can produce, in declaration
// order.
func (c *DecisionConfig) Branches() []string {
	if len(c.Conditions) == 0 {
		return []string{BranchTrue, BranchFalse}
	}
	seen := map[string]bool{}
	var branches []string
	add := func(b string) {
		if b != "" && !seen[b] {
			seen[b] = true
			branches = append(branches, b)
		}
	}
	for _, cond := range c.Conditions {
		if cond != nil {
			add(cond.Branch)
		}
	}
	if c.Default != "" {
		add(c.Default)
	} else {
		add(BranchDefault)
	}
	return branches
}

// HumanConfig configures a human checkpoint.
type HumanConfig struct {
	Message          string         `json:"message"`
	Options          []string       `json:"options,omitempty"`
	InputSchema      map[string]any `json:"input_schema,omitempty"`
	DisplayVariables []string       `json:"display_variables,omitempty"`
	OutputVariable   string         `json:"output_variable,omitempty"`
}

// ResponseVariable is where a human response lands when the node sets no
// output variable.
func (c *HumanConfig) ResponseVariable(nodeID string) string {
	if c.OutputVariable != "" {
		return c.OutputVariable
	}
	return fmt.Sprintf("%s_response", nodeID)
}
