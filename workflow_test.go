package flowgraph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func linearOptions() Options {
	return Options{
		ID: "linear",
		Nodes: []*Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "work", Type: NodeTypeTool, Config: map[string]any{"tool": "echo"}},
			{ID: "end", Type: NodeTypeEnd},
		},
		Edges: []*Edge{
			{From: "start", To: "work"},
			{From: "work", To: "end"},
		},
	}
}

func validationProblems(t *testing.T, err error) []string {
	t.Helper()
	var structured *Error
	require.True(t, errors.As(err, &structured), "expected a structured error, got %v", err)
	require.Equal(t, CodeValidation, structured.Code)
	problems, ok := structured.Details.([]string)
	require.True(t, ok)
	return problems
}

func requireProblem(t *testing.T, problems []string, fragment string) {
	t.Helper()
	for _, p := range problems {
		if strings.Contains(p, fragment) {
			return
		}
	}
	t.Fatalf("expected a problem containing %q, got %v", fragment, problems)
}

func TestNewWorkflow(t *testing.T) {
	wf, err := New(linearOptions())
	require.NoError(t, err)
	require.Equal(t, "linear", wf.ID())
	require.Equal(t, "linear", wf.Name())
	require.Equal(t, "start", wf.Start().ID)
	require.Len(t, wf.Nodes(), 3)
	require.Len(t, wf.Outbound("start"), 1)

	cfg := wf.Config()
	require.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	require.Equal(t, CheckpointEveryNode, cfg.CheckpointMode)
	require.True(t, cfg.CyclesAllowed())

	node, ok := wf.Node("work")
	require.True(t, ok)
	require.Equal(t, DefaultMaxIterations, wf.MaxIterations(node))
	node.MaxIterations = 2
	require.Equal(t, 2, wf.MaxIterations(node))
}

func TestInvalidWorkflows(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Options)
		expected string
	}{
		{
			name:     "missing id",
			modify:   func(o *Options) { o.ID = "" },
			expected: "workflow id required",
		},
		{
			name:     "no nodes",
			modify:   func(o *Options) { o.Nodes = nil; o.Edges = nil },
			expected: "at least one node",
		},
		{
			name: "two start nodes",
			modify: func(o *Options) {
				o.Nodes = append(o.Nodes, &Node{ID: "start2", Type: NodeTypeStart})
				o.Edges = append(o.Edges, &Edge{From: "start2", To: "end"})
			},
			expected: "exactly one start node, found 2",
		},
		{
			name:     "no end node",
			modify:   func(o *Options) { o.Nodes[2].Type = NodeTypeTool; o.Nodes[2].Config = map[string]any{"tool": "echo"} },
			expected: "at least one end node",
		},
		{
			name:     "duplicate node id",
			modify:   func(o *Options) { o.Nodes[1].ID = "start" },
			expected: `duplicate node id "start"`,
		},
		{
			name:     "unknown node type",
			modify:   func(o *Options) { o.Nodes[1].Type = "script" },
			expected: `unknown type "script"`,
		},
		{
			name:     "dangling edge",
			modify:   func(o *Options) { o.Edges[1].To = "nowhere" },
			expected: `unknown target node "nowhere"`,
		},
		{
			name: "unreachable node",
			modify: func(o *Options) {
				o.Nodes = append(o.Nodes, &Node{ID: "orphan", Type: NodeTypeTool, Config: map[string]any{"tool": "echo"}})
				o.Edges = append(o.Edges, &Edge{From: "orphan", To: "end"})
			},
			expected: `node "orphan" is not reachable from start`,
		},
		{
			name:     "node without outbound edges",
			modify:   func(o *Options) { o.Edges = o.Edges[:1] },
			expected: `node "work" has no outbound edges`,
		},
		{
			name:     "end node with outbound edge",
			modify:   func(o *Options) { o.Edges = append(o.Edges, &Edge{From: "end", To: "work"}) },
			expected: `end node "end" must not have outbound edges`,
		},
		{
			name:     "branch on non-decision node",
			modify:   func(o *Options) { o.Edges[1].Branch = "true" },
			expected: "only valid on decision nodes",
		},
		{
			name:     "invalid edge expression",
			modify:   func(o *Options) { o.Edges[1].Expression = "a ==" },
			expected: "invalid expression",
		},
		{
			name:     "invalid template",
			modify:   func(o *Options) { o.Nodes[1].Config["parameters"] = map[string]any{"x": "{{#if a}}open"} },
			expected: "parameters",
		},
		{
			name:     "tool without name",
			modify:   func(o *Options) { o.Nodes[1].Config = map[string]any{} },
			expected: "tool name required",
		},
		{
			name:     "unknown checkpoint mode",
			modify:   func(o *Options) { o.Config.CheckpointMode = "sometimes" },
			expected: `unknown checkpoint_mode "sometimes"`,
		},
		{
			name: "cycle when cycles are disabled",
			modify: func(o *Options) {
				disallow := false
				o.Config.AllowCycles = &disallow
				o.Edges = append(o.Edges, &Edge{From: "work", To: "work", Expression: "retry == true"})
			},
			expected: "cycle detected",
		},
		{
			name: "unknown agent source",
			modify: func(o *Options) {
				o.Nodes[1] = &Node{ID: "work", Type: NodeTypeAgent, Config: map[string]any{"prompt": "hi", "sources": []any{"handbook"}}}
			},
			expected: `unknown source "handbook"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := linearOptions()
			tt.modify(&opts)
			_, err := New(opts)
			require.Error(t, err)
			requireProblem(t, validationProblems(t, err), tt.expected)
		})
	}
}

func TestValidationReportsEveryProblem(t *testing.T) {
	opts := linearOptions()
	opts.ID = ""
	opts.Edges[1].To = "nowhere"
	_, err := New(opts)
	problems := validationProblems(t, err)
	requireProblem(t, problems, "workflow id required")
	requireProblem(t, problems, "unknown target node")
}

func TestDecisionBranchCoverage(t *testing.T) {
	build := func(edges ...*Edge) error {
		opts := Options{
			ID: "branching",
			Nodes: []*Node{
				{ID: "start", Type: NodeTypeStart},
				{ID: "route", Type: NodeTypeDecision, Config: map[string]any{
					"conditions": []any{
						map[string]any{"branch": "high", "variable": "score", "operator": "gt", "value": 5},
					},
					"default": "low",
				}},
				{ID: "a", Type: NodeTypeEnd},
				{ID: "b", Type: NodeTypeEnd},
			},
			Edges: append([]*Edge{{From: "start", To: "route"}}, edges...),
		}
		_, err := New(opts)
		return err
	}

	require.NoError(t, build(&Edge{From: "route", To: "a", Branch: "high"}, &Edge{From: "route", To: "b", Branch: "low"}))
	require.NoError(t, build(&Edge{From: "route", To: "a", Branch: "high"}, &Edge{From: "route", To: "b", Default: true}))

	err := build(&Edge{From: "route", To: "a", Branch: "high"}, &Edge{From: "route", To: "b", Branch: "medium"})
	problems := validationProblems(t, err)
	requireProblem(t, problems, `branch "medium" which the decision never produces`)
	requireProblem(t, problems, `branch "low" has no outbound edge`)
}

func TestDecisionBranches(t *testing.T) {
	cfg := &DecisionConfig{Expression: "x > 1"}
	require.Equal(t, []string{BranchTrue, BranchFalse}, cfg.Branches())

	cfg = &DecisionConfig{Conditions: []*Condition{{Branch: "a"}, {Branch: "b"}, {Branch: "a"}}}
	require.Equal(t, []string{"a", "b", BranchDefault}, cfg.Branches())

	cfg.Default = "other"
	require.Equal(t, []string{"a", "b", "other"}, cfg.Branches())
}

const yamlWorkflow = `
id: review
name: Review
config:
  max_iterations: 3
  max_execution_time: 2m
  checkpoint_mode: boundaries
sources:
  - id: handbook
nodes:
  - id: start
    type: start
    config:
      inputs:
        - name: topic
          type: string
          required: true
  - id: draft
    type: agent
    checkpoint: true
    policy:
      timeout: 20s
      retries: 2
    config:
      prompt: Write about {{topic}}
      sources: [handbook]
  - id: approve
    type: human
    config:
      message: Approve the draft?
      options: [yes, no]
  - id: end
    type: end
edges:
  - from: start
    to: draft
  - from: draft
    to: approve
  - from: approve
    to: end
`

func TestLoadString(t *testing.T) {
	wf, err := LoadString(yamlWorkflow)
	require.NoError(t, err)
	require.Equal(t, "review", wf.ID())
	require.Equal(t, "Review", wf.Name())
	require.Equal(t, 3, wf.Config().MaxIterations)
	require.Equal(t, 2*time.Minute, wf.Config().MaxExecutionTime)
	require.Equal(t, CheckpointBoundaries, wf.Config().CheckpointMode)

	draft, ok := wf.Node("draft")
	require.True(t, ok)
	require.True(t, draft.Checkpoint)
	require.Equal(t, 20*time.Second, draft.Policy.Timeout)
	require.Equal(t, 2, draft.Policy.Retries)

	var cfg AgentConfig
	require.NoError(t, draft.DecodeConfig(&cfg))
	require.Equal(t, "Write about {{topic}}", cfg.Prompt)
	require.Equal(t, []string{"handbook"}, cfg.Sources)

	startCfg, err := wf.StartConfig()
	require.NoError(t, err)
	require.Len(t, startCfg.Inputs, 1)
	require.True(t, startCfg.Inputs[0].Required)

	_, ok = wf.Source("handbook")
	require.True(t, ok)
}

func TestLoadStringRejectsMalformedYAML(t *testing.T) {
	_, err := LoadString("id: [unterminated")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to unmarshal workflow")
}

func TestLoadStringCycleSetting(t *testing.T) {
	const loop = `
id: loop
config:
  allow_cycles: ALLOW
nodes:
  - id: start
    type: start
  - id: poll
    type: tool
    config:
      tool: echo
  - id: end
    type: end
edges:
  - from: start
    to: poll
  - from: poll
    to: end
    expression: ready
  - from: poll
    to: poll
    default: true
`
	_, err := LoadString(strings.ReplaceAll(loop, "ALLOW", "false"))
	requireProblem(t, validationProblems(t, err), "cycle detected")

	wf, err := LoadString(strings.ReplaceAll(loop, "ALLOW", "true"))
	require.NoError(t, err)
	require.True(t, wf.Config().CyclesAllowed())

	disallow := false
	opts := linearOptions()
	opts.Config.AllowCycles = &disallow
	wf, err = New(opts)
	require.NoError(t, err)
	require.False(t, wf.Config().CyclesAllowed())
	require.False(t, *opts.Config.AllowCycles)
}

func TestLoadStringDecisionOnBuiltinName(t *testing.T) {
	wf, err := LoadString(`
id: counts
nodes:
  - id: start
    type: start
    config:
      inputs:
        - name: count
          type: number
  - id: route
    type: decision
    config:
      expression: count > 2
  - id: end
    type: end
edges:
  - from: start
    to: route
  - from: route
    to: end
    default: true
`)
	require.NoError(t, err)
	require.Equal(t, "counts", wf.ID())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(yamlWorkflow), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	set, err := LoadDir(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"review"}, set.IDs())

	wf, err := set.Workflow(t.Context(), "review")
	require.NoError(t, err)
	require.Equal(t, "review", wf.ID())

	_, err = set.Workflow(t.Context(), "missing")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}
