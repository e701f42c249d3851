package flowgraph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var fixedTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func TestApplyNodeResultLeavesInputUntouched(t *testing.T) {
	state := NewExecutionState("exec_1", "wf", "", map[string]any{"topic": "go"}, fixedTime)
	state.Variables["topic"] = "go"

	next := ApplyNodeResult(state, "draft", &NodeResult{
		Output:       "text",
		StateUpdates: map[string]any{"draft": "text"},
		Branch:       "ok",
	})

	require.Equal(t, map[string]any{"topic": "go"}, state.Variables)
	require.Zero(t, state.Step)
	require.Empty(t, state.Outputs)

	require.Equal(t, map[string]any{"topic": "go", "draft": "text"}, next.Variables)
	require.Equal(t, 1, next.Step)
	require.Equal(t, 1, next.Iterations["draft"])
	require.Equal(t, "draft", next.CurrentNode)
	require.Equal(t, &NodeOutput{Status: NodeStatusCompleted, Output: "text", Branch: "ok"}, next.Outputs["draft"])

	again := ApplyNodeResult(next, "draft", &NodeResult{StateUpdates: map[string]any{"draft": "v2"}})
	require.Equal(t, 2, again.Step)
	require.Equal(t, 2, again.Iterations["draft"])
	require.Equal(t, "v2", again.Variables["draft"])
	require.Equal(t, "text", next.Variables["draft"])
}

func TestApplyNodeFailure(t *testing.T) {
	state := NewExecutionState("exec_1", "wf", "", nil, fixedTime)
	next := ApplyNodeFailure(state, "enrich", NewError(KindTransient, CodeNodeTimeout, "slow"))
	out := next.Outputs["enrich"]
	require.Equal(t, NodeStatusFailed, out.Status)
	require.Equal(t, CodeNodeTimeout, out.Error.Code)
	require.Equal(t, 1, next.Step)
}

func TestApplyHumanResponse(t *testing.T) {
	state := NewExecutionState("exec_1", "wf", "", nil, fixedTime)
	state.Status = ExecutionStatusPaused
	state.Step = 3
	state.Pending = &PendingInput{NodeID: "review", CorrelationID: "corr_1", OutputVariable: "review_response"}

	next := ApplyHumanResponse(state, map[string]any{"choice": "approve"})
	require.Nil(t, next.Pending)
	require.Equal(t, map[string]any{"choice": "approve"}, next.Variables["review_response"])
	require.Equal(t, map[string]any{"choice": "approve"}, next.Outputs["review"].Output)
	require.Equal(t, 3, next.Step)
	require.NotNil(t, state.Pending)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	manager := NewStateManager(store, WithClock(func() time.Time { return fixedTime }))

	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.OneOf(
			rapid.StringMatching(`[a-zA-Z0-9 _.,!?-]{0,20}`).AsAny(),
			rapid.Bool().AsAny(),
			rapid.Float64Range(-1e9, 1e9).AsAny(),
		)
		vars := rapid.MapOf(rapid.StringMatching(`[a-z]{1,8}`), value).Draw(rt, "variables")
		list := rapid.SliceOf(value).Draw(rt, "list")

		state := NewExecutionState("exec_rt", "wf", "owner", nil, fixedTime)
		for k, v := range vars {
			state.Variables[k] = v
		}
		if len(list) > 0 {
			state.Variables["list"] = list
		}
		state.Step = rapid.IntRange(0, 1000).Draw(rt, "step")
		state.Iterations["node"] = rapid.IntRange(1, 10).Draw(rt, "iterations")
		state.CurrentNode = "node"
		state.Status = ExecutionStatusRunning
		state.ActiveDuration = time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(rt, "active"))

		cp, err := manager.SaveCheckpoint(context.Background(), state)
		if err != nil {
			rt.Fatalf("save: %v", err)
		}
		if cp.Size <= 0 {
			rt.Fatalf("expected a positive checkpoint size")
		}
		loaded, err := manager.LoadCheckpoint(context.Background(), "exec_rt")
		if err != nil {
			rt.Fatalf("load: %v", err)
		}
		require.Equal(rt, state, loaded)
	})
}

func TestCheckpointTooLargeKeepsPrevious(t *testing.T) {
	store := NewMemoryStore()
	manager := NewStateManager(store, WithMaxCheckpointBytes(2048))
	ctx := context.Background()

	state := NewExecutionState("exec_big", "wf", "", nil, fixedTime)
	state.Variables["small"] = "ok"
	_, err := manager.SaveCheckpoint(ctx, state)
	require.NoError(t, err)

	bigger := state.Clone()
	bigger.CurrentNode = "fetch"
	bigger.Variables["blob"] = strings.Repeat("x", 4096)
	_, err = manager.SaveCheckpoint(ctx, bigger)
	require.Error(t, err)
	require.True(t, HasCode(err, CodeCheckpointTooLarge))
	require.Equal(t, "fetch", ClassifyError(err).NodeID)

	loaded, err := manager.LoadCheckpoint(ctx, "exec_big")
	require.NoError(t, err)
	require.NotContains(t, loaded.Variables, "blob")
	require.Equal(t, "ok", loaded.Variables["small"])
}

func TestDefaultCheckpointCeiling(t *testing.T) {
	require.Equal(t, 50*1024*1024, NewStateManager(NewMemoryStore()).MaxBytes())
	require.Equal(t, 10, NewStateManager(NewMemoryStore(), WithMaxCheckpointBytes(10)).MaxBytes())
	require.Equal(t, DefaultMaxCheckpointBytes, NewStateManager(NewMemoryStore(), WithMaxCheckpointBytes(0)).MaxBytes())
}

func TestLoadMissingCheckpoint(t *testing.T) {
	_, err := NewStateManager(NewMemoryStore()).LoadCheckpoint(context.Background(), "nope")
	require.True(t, errors.Is(err, ErrCheckpointNotFound))
}

func TestDecodeCheckpointRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeCheckpoint([]byte(`{"version": 99, "state": {"id": "x"}}`))
	require.ErrorContains(t, err, "unsupported checkpoint version 99")

	_, err = DecodeCheckpoint([]byte(`{"version": 1}`))
	require.ErrorContains(t, err, "no state")

	_, err = DecodeCheckpoint([]byte(`not json`))
	require.Error(t, err)
}
