package flowgraph

import (
	"context"
	"fmt"
	"slices"

	"github.com/deepnoodle-ai/flowgraph/expression"
	"github.com/deepnoodle-ai/flowgraph/template"
)

var expressions = expression.NewExprEngine()

// validate returns every structural problem found in the workflow.
func validate(w *Workflow) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if w.id == "" {
		add("workflow id required")
	}
	if len(w.nodes) == 0 {
		add("workflow must have at least one node")
		return problems
	}
	if w.config.MaxIterations < 0 {
		add("max_iterations must not be negative")
	}
	if w.config.MaxExecutionTime < 0 {
		add("max_execution_time must not be negative")
	}
	switch w.config.CheckpointMode {
	case CheckpointEveryNode, CheckpointBoundaries:
	default:
		add("unknown checkpoint_mode %q", w.config.CheckpointMode)
	}

	seen := map[string]bool{}
	var starts, ends int
	for i, node := range w.nodes {
		if node == nil {
			add("node %d is empty", i)
			continue
		}
		if node.ID == "" {
			add("node %d has no id", i)
			continue
		}
		if seen[node.ID] {
			add("duplicate node id %q", node.ID)
		}
		seen[node.ID] = true
		switch node.Type {
		case NodeTypeStart:
			starts++
		case NodeTypeEnd:
			ends++
		}
		if !node.Type.Valid() {
			add("node %q has unknown type %q", node.ID, node.Type)
		}
		if node.MaxIterations < 0 {
			add("node %q: max_iterations must not be negative", node.ID)
		}
		if node.Policy.Timeout < 0 || node.Policy.Retries < 0 || node.Policy.RetryDelay < 0 {
			add("node %q: policy values must not be negative", node.ID)
		}
		for _, problem := range validateNodeConfig(w, node) {
			add("node %q: %s", node.ID, problem)
		}
	}
	if starts != 1 {
		add("workflow must have exactly one start node, found %d", starts)
	}
	if ends == 0 {
		add("workflow must have at least one end node")
	}

	for i, edge := range w.edges {
		if edge == nil {
			add("edge %d is empty", i)
			continue
		}
		from, fromOK := w.nodesByID[edge.From]
		if !fromOK {
			add("edge %d references unknown source node %q", i, edge.From)
		}
		if _, ok := w.nodesByID[edge.To]; !ok {
			add("edge %d references unknown target node %q", i, edge.To)
		}
		if edge.Expression != "" && edge.Branch != "" {
			add("edge %s sets both expression and branch", edge)
		}
		if edge.Expression != "" {
			if _, err := expressions.Compile(context.Background(), edge.Expression); err != nil {
				add("edge %s: invalid expression: %v", edge, err)
			}
		}
		if fromOK {
			if from.Type == NodeTypeEnd {
				add("end node %q must not have outbound edges", from.ID)
			}
			if edge.Branch != "" && from.Type != NodeTypeDecision {
				add("edge %s: branch conditions are only valid on decision nodes", edge)
			}
		}
	}

	for _, node := range w.nodes {
		if node == nil || node.ID == "" {
			continue
		}
		edges := w.outbound[node.ID]
		if node.Type != NodeTypeEnd && len(edges) == 0 {
			add("node %q has no outbound edges", node.ID)
		}
		defaults := 0
		for _, edge := range edges {
			if edge.Default {
				defaults++
			}
		}
		if defaults > 1 {
			add("node %q has %d default edges", node.ID, defaults)
		}
		if node.Type == NodeTypeDecision {
			problems = append(problems, validateBranches(node, edges)...)
		}
	}

	if w.start != nil {
		reached := reachable(w)
		for _, node := range w.nodes {
			if node != nil && node.ID != "" && !reached[node.ID] {
				add("node %q is not reachable from start", node.ID)
			}
		}
	}
	if !w.config.CyclesAllowed() {
		if cycle := findCycle(w); len(cycle) > 0 {
			add("cycle detected: %v", cycle)
		}
	}
	for _, source := range w.sources {
		if source == nil || source.ID == "" {
			add("source entries require an id")
		}
	}
	return problems
}

func validateNodeConfig(w *Workflow, node *Node) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	checkTemplate := func(field, text string) {
		if err := template.Validate(text); err != nil {
			add("%s: %v", field, err)
		}
	}

	switch node.Type {
	case NodeTypeStart:
		var cfg StartConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return []string{err.Error()}
		}
		names := map[string]bool{}
		for _, input := range cfg.Inputs {
			if input == nil || input.Name == "" {
				add("inputs require a name")
				continue
			}
			if names[input.Name] {
				add("duplicate input %q", input.Name)
			}
			names[input.Name] = true
			if !slices.Contains(InputTypes, input.Type) {
				add("input %q has unknown type %q", input.Name, input.Type)
			}
		}
	case NodeTypeEnd:
		var cfg EndConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return []string{err.Error()}
		}
		for _, output := range cfg.Outputs {
			if output == nil || output.Name == "" {
				add("outputs require a name")
				continue
			}
			if output.Template != "" {
				checkTemplate("output "+output.Name, output.Template)
			} else if output.Variable != "" {
				if _, err := expression.SplitPath(output.Variable); err != nil {
					add("output %q: %v", output.Name, err)
				}
			}
		}
	case NodeTypeAgent:
		var cfg AgentConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return []string{err.Error()}
		}
		if cfg.Prompt == "" {
			add("prompt required")
		}
		checkTemplate("prompt", cfg.Prompt)
		checkTemplate("system_prompt", cfg.SystemPrompt)
		if cfg.MaxIterations < 0 {
			add("max_iterations must not be negative")
		}
		for _, id := range cfg.Sources {
			if _, ok := w.sourcesByID[id]; !ok {
				add("unknown source %q", id)
			}
		}
		switch cfg.ResponseFormat {
		case "", "text", "json":
		default:
			add("unknown response_format %q", cfg.ResponseFormat)
		}
	case NodeTypeTool:
		var cfg ToolConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return []string{err.Error()}
		}
		if cfg.Tool == "" {
			add("tool name required")
		}
		walkStrings(cfg.Parameters, func(text string) {
			checkTemplate("parameters", text)
		})
	case NodeTypeDecision:
		var cfg DecisionConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return []string{err.Error()}
		}
		if cfg.Expression == "" && len(cfg.Conditions) == 0 {
			add("decision requires an expression or conditions")
		}
		if cfg.Expression != "" && len(cfg.Conditions) > 0 {
			add("decision must not set both expression and conditions")
		}
		if cfg.Expression != "" {
			if _, err := expressions.Compile(context.Background(), cfg.Expression); err != nil {
				add("invalid expression: %v", err)
			}
		}
		for i, cond := range cfg.Conditions {
			if cond == nil || cond.Branch == "" {
				add("condition %d requires a branch", i)
				continue
			}
			if cond.Expression != "" {
				if _, err := expressions.Compile(context.Background(), cond.Expression); err != nil {
					add("condition %d: invalid expression: %v", i, err)
				}
				continue
			}
			if cond.Variable == "" {
				add("condition %d requires a variable or expression", i)
			}
			if _, err := expression.ParseOperator(cond.Operator); err != nil {
				add("condition %d: %v", i, err)
			}
		}
	case NodeTypeHuman:
		var cfg HumanConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return []string{err.Error()}
		}
		if cfg.Message == "" {
			add("message required")
		}
		checkTemplate("message", cfg.Message)
	}
	return problems
}

func validateBranches(node *Node, edges []*Edge) []string {
	var cfg DecisionConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil
	}
	var problems []string
	declared := cfg.Branches()
	covered := map[string]bool{}
	hasDefault := false
	for _, edge := range edges {
		switch {
		case edge.Default:
			hasDefault = true
		case edge.Branch != "":
			if !slices.Contains(declared, edge.Branch) {
				problems = append(problems, fmt.Sprintf("node %q: edge to %q uses branch %q which the decision never produces", node.ID, edge.To, edge.Branch))
			}
			covered[edge.Branch] = true
		}
	}
	if hasDefault {
		return problems
	}
	for _, branch := range declared {
		if !covered[branch] {
			problems = append(problems, fmt.Sprintf("node %q: branch %q has no outbound edge", node.ID, branch))
		}
	}
	return problems
}

func reachable(w *Workflow) map[string]bool {
	reached := map[string]bool{w.start.ID: true}
	queue := []string{w.start.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, edge := range w.outbound[id] {
			if !reached[edge.To] {
				reached[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}
	return reached
}

// findCycle returns the node ids of one cycle in the graph, if any.
func findCycle(w *Workflow) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var stack []string
	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		for _, edge := range w.outbound[id] {
			switch state[edge.To] {
			case visiting:
				start := slices.Index(stack, edge.To)
				cycle = append(slices.Clone(stack[start:]), edge.To)
				return true
			case unvisited:
				if visit(edge.To) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}
	for _, node := range w.nodes {
		if node != nil && state[node.ID] == unvisited {
			if visit(node.ID) {
				return cycle
			}
		}
	}
	return nil
}

// walkStrings calls fn for every string found in a nested value.
func walkStrings(value any, fn func(string)) {
	switch v := value.(type) {
	case string:
		fn(v)
	case map[string]any:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []any:
		for _, item := range v {
			walkStrings(item, fn)
		}
	}
}
