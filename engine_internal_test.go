package flowgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// stepExecutor completes every node of its type; human nodes pause.
type stepExecutor NodeType

func (s stepExecutor) Type() NodeType { return NodeType(s) }

func (s stepExecutor) Execute(ctx context.Context, node *Node, state StateReader, ectx *ExecutionContext) (*NodeResult, error) {
	result := &NodeResult{Status: NodeStatusCompleted, IsTerminal: node.Type == NodeTypeEnd}
	if node.Type == NodeTypeHuman {
		result.Pause = &HumanRequest{Message: "continue?", OutputVariable: node.ID + "_response"}
	}
	return result, nil
}

func newStepEngine(t *testing.T, cfg EngineConfig) *Engine {
	t.Helper()
	wf, err := New(Options{
		ID: "gate",
		Nodes: []*Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "gate", Type: NodeTypeHuman, Config: map[string]any{"message": "continue?"}},
			{ID: "end", Type: NodeTypeEnd},
		},
		Edges: []*Edge{
			{From: "start", To: "gate"},
			{From: "gate", To: "end"},
		},
	})
	require.NoError(t, err)
	engine, err := NewEngine(EngineOptions{
		Workflows: NewWorkflowSet(wf),
		Executors: []NodeExecutor{stepExecutor(NodeTypeStart), stepExecutor(NodeTypeHuman), stepExecutor(NodeTypeEnd)},
		Config:    cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func requireReleased(t *testing.T, e *Engine, executionID string) {
	t.Helper()
	e.mutex.Lock()
	defer e.mutex.Unlock()
	require.NotContains(t, e.runs, executionID)
	require.NotContains(t, e.locks, executionID)
	require.NotContains(t, e.caches, executionID)
	require.Nil(t, e.broker.History(executionID))
}

func TestFinishedExecutionsReleaseMemory(t *testing.T) {
	ctx := context.Background()
	engine := newStepEngine(t, EngineConfig{EventRetention: -1})

	t.Run("responded", func(t *testing.T) {
		id, err := engine.CreateExecution(ctx, "gate", nil, CreateOptions{})
		require.NoError(t, err)
		paused, err := engine.Wait(ctx, id)
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusPaused, paused.Status)

		require.NoError(t, engine.Respond(ctx, id, paused.Pending.CorrelationID, map[string]any{"ok": true}))
		done, err := engine.Wait(ctx, id)
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusCompleted, done.Status)
		require.NoError(t, engine.Cancel(ctx, id))
		requireReleased(t, engine, id)

		ch, err := engine.StreamEvents(ctx, id)
		require.NoError(t, err)
		var types []EventType
		for ev := range ch {
			types = append(types, ev.Type)
		}
		require.Equal(t, []EventType{EventCompleted}, types)
	})

	t.Run("cancelled while paused", func(t *testing.T) {
		id, err := engine.CreateExecution(ctx, "gate", nil, CreateOptions{})
		require.NoError(t, err)
		_, err = engine.Wait(ctx, id)
		require.NoError(t, err)
		require.NoError(t, engine.Cancel(ctx, id))
		requireReleased(t, engine, id)
	})
}

func TestFinishedExecutionHistoryIsRetained(t *testing.T) {
	ctx := context.Background()
	engine := newStepEngine(t, EngineConfig{})
	id, err := engine.CreateExecution(ctx, "gate", nil, CreateOptions{})
	require.NoError(t, err)
	_, err = engine.Wait(ctx, id)
	require.NoError(t, err)
	require.NoError(t, engine.Cancel(ctx, id))

	history := engine.broker.History(id)
	require.NotEmpty(t, history)
	require.Equal(t, EventCancelled, history[len(history)-1].Type)
}
