package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowgraph/retry"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(KindPermanent, CodeToolNotFound, "tool \"x\" is not registered")
	require.Equal(t, `TOOL_NOT_FOUND: tool "x" is not registered`, err.Error())
	require.Nil(t, err.Unwrap())

	withNode := err.WithNode("fetch")
	require.Equal(t, `TOOL_NOT_FOUND (node fetch): tool "x" is not registered`, withNode.Error())
	require.Empty(t, err.NodeID, "WithNode must not modify the receiver")
}

func TestErrorfKeepsWrappedError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Errorf(CodeCheckpointFailed, "save: %w", cause)
	require.Equal(t, KindPermanent, err.Kind)
	require.True(t, errors.Is(err, cause))

	var structured *Error
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &structured))
	require.Equal(t, CodeCheckpointFailed, structured.Code)
}

func TestClassifyError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		require.Nil(t, ClassifyError(nil))
	})

	t.Run("structured passes through", func(t *testing.T) {
		original := NewError(KindValidation, CodeInvalidInput, "bad")
		require.Same(t, original, ClassifyError(fmt.Errorf("wrapped: %w", original)))
	})

	t.Run("deadline is a transient timeout", func(t *testing.T) {
		classified := ClassifyError(context.DeadlineExceeded)
		require.Equal(t, KindTransient, classified.Kind)
		require.Equal(t, CodeNodeTimeout, classified.Code)
		require.True(t, errors.Is(classified, context.DeadlineExceeded))
	})

	t.Run("cancellation is permanent", func(t *testing.T) {
		classified := ClassifyError(context.Canceled)
		require.Equal(t, KindPermanent, classified.Kind)
	})

	t.Run("permanent classification is honored", func(t *testing.T) {
		classified := ClassifyError(retry.Permanent(errors.New("bad request")))
		require.Equal(t, KindPermanent, classified.Kind)
		require.Equal(t, CodeNodeFailed, classified.Code)
	})

	t.Run("unknown errors are transient", func(t *testing.T) {
		classified := ClassifyError(errors.New("something went wrong"))
		require.Equal(t, KindTransient, classified.Kind)
		require.True(t, IsTransient(classified))
	})
}

func TestHasCode(t *testing.T) {
	inner := NewError(KindTransient, CodeNodeTimeout, "slow")
	outer := &Error{Kind: KindPermanent, Code: CodeExecutionFailed, Message: "gave up", Wrapped: inner}

	require.True(t, HasCode(outer, CodeExecutionFailed))
	require.True(t, HasCode(outer, CodeNodeTimeout))
	require.True(t, HasCode(fmt.Errorf("ctx: %w", outer), CodeNodeTimeout))
	require.False(t, HasCode(outer, CodeValidation))
	require.False(t, HasCode(errors.New("plain"), CodeValidation))
	require.False(t, IsTransient(nil))
}

func TestValidationErrorCollectsProblems(t *testing.T) {
	err := ValidationError([]string{"a is wrong", "b is wrong"})
	require.Equal(t, KindValidation, err.Kind)
	require.Equal(t, CodeValidation, err.Code)
	require.Equal(t, "a is wrong; b is wrong", err.Message)
	require.Equal(t, []string{"a is wrong", "b is wrong"}, err.Details)
}

func TestNewExecutionError(t *testing.T) {
	require.Nil(t, NewExecutionError(nil))

	recorded := NewExecutionError(NewError(KindPermanent, CodeExpression, "bad expression").WithNode("route"))
	require.Equal(t, &ExecutionError{Code: CodeExpression, NodeID: "route", Message: "bad expression"}, recorded)
}
