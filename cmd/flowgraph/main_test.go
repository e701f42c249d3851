package main

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/executors"
	"github.com/deepnoodle-ai/flowgraph/tools"
)

const reviewWorkflow = `
id: review
nodes:
  - id: start
    type: start
  - id: review
    type: human
    config:
      message: Ship it?
      options: [approve, reject]
  - id: end
    type: end
edges:
  - from: start
    to: review
  - from: review
    to: end
`

func writeWorkflow(t *testing.T, definition string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definition), 0o644))
	return path
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name:    "run inputs are parsed as JSON when possible",
			command: "run",
			args:    []string{"-f", "wf.yaml", "-input", "count=3", "-i", "name=ada", "-input", `tags=["a"]`, "-input", "urgent=true", "-input", "note="},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "wf.yaml", cfg.WorkflowFile)
				require.Equal(t, map[string]any{
					"count":  float64(3),
					"name":   "ada",
					"tags":   []any{"a"},
					"urgent": true,
					"note":   "",
				}, cfg.Inputs)
			},
		},
		{
			name:    "input without separator",
			command: "run",
			args:    []string{"-input", "count"},
			wantErr: "invalid input format",
		},
		{
			name:    "resume",
			command: "resume",
			args:    []string{"-id", "exec_1", "-correlation", "corr_1", "-response", `{"choice":"approve"}`, "-no-input"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "exec_1", cfg.ExecutionID)
				require.Equal(t, "corr_1", cfg.CorrelationID)
				require.Equal(t, `{"choice":"approve"}`, cfg.Response)
				require.True(t, cfg.NoInput)
				require.Equal(t, "file", cfg.Store)
			},
		},
		{
			name:    "list",
			command: "list",
			args:    []string{"-status", "paused,failed", "-limit", "5", "-store", "memory"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "paused,failed", cfg.Statuses)
				require.Equal(t, 5, cfg.Limit)
				require.Equal(t, "memory", cfg.Store)
			},
		},
		{
			name:    "flag of another command",
			command: "cancel",
			args:    []string{"-id", "exec_1", "-limit", "5"},
			wantErr: "flag provided but not defined",
		},
		{
			name:    "unknown command",
			command: "deploy",
			wantErr: `unknown command "deploy"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseFlags(tt.command, tt.args)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validate(&Config{WorkflowFile: writeWorkflow(t, reviewWorkflow)}))

	broken := strings.Replace(reviewWorkflow, "    to: end", "    to: finish", 1)
	require.EqualError(t, validate(&Config{WorkflowFile: writeWorkflow(t, broken)}), "validation failed")

	require.EqualError(t, validate(&Config{}), "-file is required")
}

func TestRunThenResumeAcrossInvocations(t *testing.T) {
	ctx := context.Background()
	target := t.TempDir()
	file := writeWorkflow(t, reviewWorkflow)
	base := Config{
		WorkflowFile: file,
		Store:        "file",
		Target:       target,
		EventLogDir:  t.TempDir(),
		NoInput:      true,
		JSON:         true,
		Inputs:       map[string]any{},
	}

	run := base
	run.ExecutionID = "exec_cli"
	require.NoError(t, runCommand(ctx, "run", &run))
	require.Equal(t, flowgraph.ExecutionStatusPaused, storedState(t, target, "exec_cli").Status)

	list := base
	list.Statuses = "paused"
	list.Limit = 10
	require.NoError(t, runCommand(ctx, "list", &list))

	resume := base
	resume.ExecutionID = "exec_cli"
	resume.Response = `{"choice":"approve"}`
	require.NoError(t, runCommand(ctx, "resume", &resume))

	state := storedState(t, target, "exec_cli")
	require.Equal(t, flowgraph.ExecutionStatusCompleted, state.Status)
	require.Equal(t, map[string]any{"choice": "approve"}, state.Variables["review_response"])

	again := base
	again.ExecutionID = "exec_cli"
	require.ErrorContains(t, runCommand(ctx, "resume", &again), "not waiting for input")
}

// storedState reads an execution back through a fresh engine.
func storedState(t *testing.T, target, id string) *flowgraph.ExecutionState {
	t.Helper()
	store, err := flowgraph.NewFileStore(target)
	require.NoError(t, err)
	engine := newTestEngine(t, store)
	_, err = engine.Recover(context.Background())
	require.NoError(t, err)
	state, err := engine.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return state
}

func newTestEngine(t *testing.T, store flowgraph.Store, workflows ...*flowgraph.Workflow) *flowgraph.Engine {
	t.Helper()
	engine, err := flowgraph.NewEngine(flowgraph.EngineOptions{
		Workflows: flowgraph.NewWorkflowSet(workflows...),
		Executors: executors.Defaults(executors.Options{LLM: executors.EchoClient{}, Tools: tools.NewRegistry()}),
		Store:     store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestFollowAnswersFromStdin(t *testing.T) {
	ctx := context.Background()
	wf, err := flowgraph.LoadString(reviewWorkflow)
	require.NoError(t, err)
	engine := newTestEngine(t, flowgraph.NewMemoryStore(), wf)

	// "9" is not an option and is rejected before "1" selects approve.
	cli := &app{
		engine:  engine,
		cfg:     &Config{},
		printer: newPrinter(true, false),
		stdin:   bufio.NewReader(strings.NewReader("9\n1\n")),
	}
	id, err := engine.CreateExecution(ctx, "review", nil, flowgraph.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, cli.follow(ctx, id))

	state, err := engine.GetExecution(ctx, id)
	require.NoError(t, err)
	require.Equal(t, flowgraph.ExecutionStatusCompleted, state.Status)
	require.Equal(t, map[string]any{"choice": "approve"}, state.Variables["review_response"])
}
