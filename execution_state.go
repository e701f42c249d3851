package flowgraph

import (
	"maps"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flowgraph/expression"
)

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// NodeStatus is the outcome recorded for a node.
type NodeStatus string

const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// ExecutionError is the serializable form of a terminal or node failure.
type ExecutionError struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// NewExecutionError converts err into its recorded form.
func NewExecutionError(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	structured := ClassifyError(err)
	return &ExecutionError{Code: structured.Code, NodeID: structured.NodeID, Message: structured.Message}
}

// NodeOutput is the last result recorded for a node.
type NodeOutput struct {
	Status NodeStatus      `json:"status"`
	Output any             `json:"output"`
	Branch string          `json:"branch,omitempty"`
	Error  *ExecutionError `json:"error,omitempty"`
}

// PendingInput describes the question a paused execution is waiting on.
type PendingInput struct {
	NodeID         string         `json:"node_id"`
	CorrelationID  string         `json:"correlation_id"`
	Message        string         `json:"message"`
	Options        []string       `json:"options"`
	InputSchema    map[string]any `json:"input_schema"`
	Display        map[string]any `json:"display"`
	OutputVariable string         `json:"output_variable"`
	RequestedAt    time.Time      `json:"requested_at"`
}

// ExecutionState is the complete, serializable state of one execution. It is
// owned by a single run loop; everything handed out to callers is a copy.
type ExecutionState struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	OwnerID        string                 `json:"owner_id"`
	Status         ExecutionStatus        `json:"status"`
	Inputs         map[string]any         `json:"inputs"`
	Variables      map[string]any         `json:"variables"`
	Outputs        map[string]*NodeOutput `json:"outputs"`
	CurrentNode    string                 `json:"current_node"`
	Step           int                    `json:"step"`
	Iterations     map[string]int         `json:"iterations"`
	Pending        *PendingInput          `json:"pending,omitempty"`
	Error          *ExecutionError        `json:"error,omitempty"`
	FinalOutput    map[string]any         `json:"final_output"`
	SelectedModel  string                 `json:"selected_model,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      time.Time              `json:"started_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	FinishedAt     time.Time              `json:"finished_at"`
	ActiveDuration time.Duration          `json:"active_duration"`
}

// NewExecutionState returns a pending execution state.
func NewExecutionState(id, workflowID, ownerID string, inputs map[string]any, now time.Time) *ExecutionState {
	now = now.UTC()
	return &ExecutionState{
		ID:         id,
		WorkflowID: workflowID,
		OwnerID:    ownerID,
		Status:     ExecutionStatusPending,
		Inputs:     maps.Clone(inputs),
		Variables:  map[string]any{},
		Outputs:    map[string]*NodeOutput{},
		Iterations: map[string]int{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a copy whose maps can be modified without affecting s.
// Variable values themselves are shared.
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}
	c := *s
	c.Inputs = maps.Clone(s.Inputs)
	c.Variables = maps.Clone(s.Variables)
	c.Iterations = maps.Clone(s.Iterations)
	c.FinalOutput = maps.Clone(s.FinalOutput)
	if s.Outputs != nil {
		c.Outputs = make(map[string]*NodeOutput, len(s.Outputs))
		for id, out := range s.Outputs {
			copied := *out
			c.Outputs[id] = &copied
		}
	}
	if s.Pending != nil {
		pending := *s.Pending
		c.Pending = &pending
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

// Reader returns a read-only view of the state for executors.
func (s *ExecutionState) Reader() StateReader {
	return &stateView{state: s}
}

// StateReader gives executors read access to execution state. Executors
// express every change through their returned result.
type StateReader interface {
	ExecutionID() string
	Get(name string) (any, bool)
	Lookup(path string) (any, bool)
	Variables() map[string]any
	Inputs() map[string]any
	NodeOutput(nodeID string) (*NodeOutput, bool)
	Step() int
	Iteration(nodeID string) int
}

type stateView struct {
	state *ExecutionState
}

func (v *stateView) ExecutionID() string {
	return v.state.ID
}

func (v *stateView) Get(name string) (any, bool) {
	value, ok := v.state.Variables[name]
	return value, ok
}

func (v *stateView) Lookup(path string) (any, bool) {
	return expression.Lookup(v.state.Variables, path)
}

func (v *stateView) Variables() map[string]any {
	return maps.Clone(v.state.Variables)
}

func (v *stateView) Inputs() map[string]any {
	return maps.Clone(v.state.Inputs)
}

func (v *stateView) NodeOutput(nodeID string) (*NodeOutput, bool) {
	out, ok := v.state.Outputs[nodeID]
	if !ok {
		return nil, false
	}
	copied := *out
	return &copied, true
}

func (v *stateView) Step() int {
	return v.state.Step
}

func (v *stateView) Iteration(nodeID string) int {
	return v.state.Iterations[nodeID]
}

// Reserved template variables.
const (
	VarCurrentStep          = "_currentStep"
	VarCurrentNodeIteration = "_currentNodeIteration"
	VarTotalNodes           = "_totalNodes"
)

// IsReservedVariable reports whether name is reserved for engine use.
func IsReservedVariable(name string) bool {
	return strings.HasPrefix(name, "_")
}

// PublicVariables returns the variables whose names are not reserved.
func PublicVariables(vars map[string]any) map[string]any {
	public := make(map[string]any, len(vars))
	for k, v := range vars {
		if !IsReservedVariable(k) {
			public[k] = v
		}
	}
	return public
}
