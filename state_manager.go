package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

// DefaultMaxCheckpointBytes is the hard ceiling on an encoded checkpoint.
const DefaultMaxCheckpointBytes = 50 << 20

// checkpointVersion is bumped whenever the encoded layout changes.
const checkpointVersion = 1

// Checkpoint is the encoded snapshot of an execution. Exactly one exists per
// execution; saving replaces it.
type Checkpoint struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	State   *ExecutionState `json:"state"`
	// Size is the encoded size in bytes. It is not part of the encoding.
	Size int `json:"-"`
}

// ApplyNodeResult returns a new state with the node result merged in: state
// updates are shallow-merged into the variables, the output is recorded under
// the node id, the step and per-node iteration counters advance and the
// current node moves to nodeID. The input state is not modified.
func ApplyNodeResult(state *ExecutionState, nodeID string, result *NodeResult) *ExecutionState {
	next := state.Clone()
	if next.Variables == nil {
		next.Variables = map[string]any{}
	}
	if next.Outputs == nil {
		next.Outputs = map[string]*NodeOutput{}
	}
	if next.Iterations == nil {
		next.Iterations = map[string]int{}
	}
	status := result.Status
	if status == "" {
		status = NodeStatusCompleted
	}
	maps.Copy(next.Variables, result.StateUpdates)
	next.Outputs[nodeID] = &NodeOutput{Status: status, Output: result.Output, Branch: result.Branch}
	next.Step++
	next.Iterations[nodeID]++
	next.CurrentNode = nodeID
	return next
}

// ApplyNodeFailure records a failed node output for an optional node. It
// advances the counters exactly like a successful result.
func ApplyNodeFailure(state *ExecutionState, nodeID string, err error) *ExecutionState {
	next := ApplyNodeResult(state, nodeID, &NodeResult{Status: NodeStatusFailed})
	recorded := NewExecutionError(err)
	if recorded != nil && recorded.NodeID == "" {
		recorded.NodeID = nodeID
	}
	next.Outputs[nodeID].Error = recorded
	return next
}

// ApplyHumanResponse returns a new state with a human response merged in. The
// response becomes the human node's output and is stored under the pending
// output variable. Counters do not advance since the node already ran.
func ApplyHumanResponse(state *ExecutionState, response map[string]any) *ExecutionState {
	next := state.Clone()
	pending := next.Pending
	if pending == nil {
		return next
	}
	if next.Variables == nil {
		next.Variables = map[string]any{}
	}
	if next.Outputs == nil {
		next.Outputs = map[string]*NodeOutput{}
	}
	payload := maps.Clone(response)
	if payload == nil {
		payload = map[string]any{}
	}
	next.Variables[pending.OutputVariable] = payload
	next.Outputs[pending.NodeID] = &NodeOutput{Status: NodeStatusCompleted, Output: payload}
	next.Pending = nil
	return next
}

// StateManager encodes execution state and persists it as the single latest
// checkpoint of each execution.
type StateManager struct {
	store    CheckpointStore
	maxBytes int
	now      func() time.Time
}

// StateManagerOption configures a StateManager.
type StateManagerOption func(*StateManager)

// WithMaxCheckpointBytes overrides the checkpoint size ceiling.
func WithMaxCheckpointBytes(n int) StateManagerOption {
	return func(m *StateManager) {
		if n > 0 {
			m.maxBytes = n
		}
	}
}

// WithClock overrides the clock used to stamp checkpoints.
func WithClock(now func() time.Time) StateManagerOption {
	return func(m *StateManager) {
		m.now = now
	}
}

// NewStateManager returns a StateManager writing to store.
func NewStateManager(store CheckpointStore, opts ...StateManagerOption) *StateManager {
	m := &StateManager{store: store, maxBytes: DefaultMaxCheckpointBytes, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxBytes returns the configured checkpoint ceiling.
func (m *StateManager) MaxBytes() int {
	return m.maxBytes
}

// EncodeCheckpoint serializes state without persisting it.
func (m *StateManager) EncodeCheckpoint(state *ExecutionState) (*Checkpoint, []byte, error) {
	cp := &Checkpoint{Version: checkpointVersion, SavedAt: m.now().UTC(), State: state}
	data, err := xjson.Marshal(cp)
	if err != nil {
		return nil, nil, Errorf(CodeCheckpointFailed, "encode checkpoint: %w", err)
	}
	cp.Size = len(data)
	return cp, data, nil
}

// SaveCheckpoint encodes state and replaces the execution's checkpoint. A
// state whose encoding exceeds the ceiling is rejected with
// CHECKPOINT_TOO_LARGE before anything is written, so the previous
// checkpoint stays intact.
func (m *StateManager) SaveCheckpoint(ctx context.Context, state *ExecutionState) (*Checkpoint, error) {
	cp, data, err := m.EncodeCheckpoint(state)
	if err != nil {
		return nil, err
	}
	if len(data) > m.maxBytes {
		return nil, &Error{
			Kind:    KindPermanent,
			Code:    CodeCheckpointTooLarge,
			NodeID:  state.CurrentNode,
			Message: fmt.Sprintf("checkpoint is %d bytes, limit is %d", len(data), m.maxBytes),
			Details: map[string]any{"size": len(data), "limit": m.maxBytes},
		}
	}
	if err := m.store.SaveCheckpoint(ctx, state.ID, data); err != nil {
		return nil, &Error{Kind: KindPermanent, Code: CodeCheckpointFailed, NodeID: state.CurrentNode, Message: err.Error(), Wrapped: err}
	}
	return cp, nil
}

// LoadCheckpoint reads and decodes the latest checkpoint of an execution.
func (m *StateManager) LoadCheckpoint(ctx context.Context, executionID string) (*ExecutionState, error) {
	data, err := m.store.LoadCheckpoint(ctx, executionID)
	if err != nil {
		if errors.Is(err, ErrCheckpointNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", executionID, err)
	}
	return DecodeCheckpoint(data)
}

// DeleteCheckpoint removes the checkpoint of an execution.
func (m *StateManager) DeleteCheckpoint(ctx context.Context, executionID string) error {
	return m.store.DeleteCheckpoint(ctx, executionID)
}

// DecodeCheckpoint parses an encoded checkpoint.
func DecodeCheckpoint(data []byte) (*ExecutionState, error) {
	var cp Checkpoint
	if err := xjson.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if cp.State == nil {
		return nil, errors.New("checkpoint has no state")
	}
	return cp.State, nil
}
