package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/flowgraph/retry"
)

// ErrorKind classifies failures by how the engine reacts to them.
type ErrorKind string

const (
	// KindValidation marks a structurally invalid workflow or input payload.
	// Surfaced to the caller at creation time and never retried.
	KindValidation ErrorKind = "validation"

	// KindTransient marks timeouts and external-service failures. Retried per
	// node policy and escalated to EXECUTION_FAILED once retries run out.
	KindTransient ErrorKind = "transient"

	// KindPermanent fails the execution immediately.
	KindPermanent ErrorKind = "permanent"

	// KindStateMismatch is returned to callers operating on an execution in
	// the wrong state. The execution itself is left untouched.
	KindStateMismatch ErrorKind = "state_mismatch"
)

// Stable error codes carried by terminal failures.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeMissingRequiredInput  = "MISSING_REQUIRED_INPUT"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeUnknownNodeType       = "UNKNOWN_NODE_TYPE"
	CodeTemplate              = "TEMPLATE_ERROR"
	CodeExpression            = "EXPRESSION_ERROR"
	CodeIterationLimit        = "ITERATION_LIMIT_EXCEEDED"
	CodeCheckpointTooLarge    = "CHECKPOINT_TOO_LARGE"
	CodeCheckpointFailed      = "CHECKPOINT_FAILED"
	CodeNoMatchingEdge        = "NO_MATCHING_EDGE"
	CodeNodeTimeout           = "NODE_TIMEOUT"
	CodeExecutionTimeout      = "EXECUTION_TIMEOUT"
	CodeExecutionFailed       = "EXECUTION_FAILED"
	CodeNodeFailed            = "NODE_FAILED"
	CodeInvalidStateForResume = "INVALID_STATE_FOR_RESUME"
	CodeExecutionInterrupted  = "EXECUTION_INTERRUPTED"
	CodeToolNotFound          = "TOOL_NOT_FOUND"
	CodeSourceNotFound        = "SOURCE_NOT_FOUND"
)

var (
	// ErrExecutionNotFound is returned when no execution has the given id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrCheckpointNotFound is returned when no checkpoint exists for an
	// execution.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrWorkflowNotFound is returned when a workflow id is unknown.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("engine closed")
)

// Error is the structured error used throughout the engine. It supports
// errors.Is and errors.As through Unwrap.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	NodeID  string    `json:"node_id,omitempty"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	Wrapped error     `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s (node %s): %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Transient reports whether the engine may retry the failed operation.
func (e *Error) Transient() bool {
	return e.Kind == KindTransient
}

// NewError returns an error of the given kind and code.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Errorf returns a permanent error with a formatted message. If the format
// wraps an error with %w it is kept for errors.Is and errors.As.
func Errorf(code, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: KindPermanent, Code: code, Message: err.Error(), Wrapped: errors.Unwrap(err)}
}

// WithNode returns a copy of the error attributed to the given node.
func (e *Error) WithNode(nodeID string) *Error {
	copied := *e
	copied.NodeID = nodeID
	return &copied
}

// ValidationError combines a list of problems into one validation error.
func ValidationError(problems []string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: strings.Join(problems, "; "),
		Details: problems,
	}
}

// ClassifyError converts any error into an *Error. Errors that are already
// structured pass through. Timeouts and retry-classified errors map onto
// their kind. Anything else is treated as transient so that unknown
// failures get the benefit of the node's retry policy.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindPermanent, Code: CodeExecutionFailed, Message: err.Error(), Wrapped: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Code: CodeNodeTimeout, Message: err.Error(), Wrapped: err}
	}
	var classified retry.Classified
	if errors.As(err, &classified) && !classified.Transient() {
		return &Error{Kind: KindPermanent, Code: CodeNodeFailed, Message: err.Error(), Wrapped: err}
	}
	return &Error{Kind: KindTransient, Code: CodeNodeFailed, Message: err.Error(), Wrapped: err}
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Kind == KindTransient
}

// HasCode reports whether err is, or wraps, an *Error with the given code.
func HasCode(err error, code string) bool {
	var structured *Error
	for err != nil {
		if !errors.As(err, &structured) {
			return false
		}
		if structured.Code == code {
			return true
		}
		err = structured.Wrapped
	}
	return false
}
