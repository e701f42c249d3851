package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/flowgraph/retry"
)

// execute is the run loop of one execution. It returns when the execution
// completes, fails, is cancelled, pauses at a human checkpoint or the engine
// closes.
func (e *Engine) execute(runCtx context.Context, r *run, wf *Workflow, state *ExecutionState, cache *SourceCache) {
	logger := e.logger.With("execution_id", state.ID, "workflow_id", wf.ID())
	segmentStart := e.now()

	resumed := state.Status == ExecutionStatusPaused
	now := segmentStart.UTC()
	state.Status = ExecutionStatusRunning
	state.UpdatedAt = now
	if state.StartedAt.IsZero() {
		state.StartedAt = now
	}
	r.snapshot.Store(state.Clone())
	if _, err := e.registry.Update(runCtx, state.ID, ExecutionStatusRunning, nil, now); err != nil {
		logger.Error("failed to update registry", "error", err)
	}
	if resumed {
		e.emit(runCtx, state, &Event{Type: EventResumed, Status: ExecutionStatusRunning})
	} else {
		e.emit(runCtx, state, &Event{Type: EventStarted, Status: ExecutionStatusRunning})
	}

	ctx := runCtx
	budget := wf.Config().MaxExecutionTime
	if budget == 0 {
		budget = e.config.MaxExecutionTime
	}
	if budget > 0 {
		remaining := budget - state.ActiveDuration
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(runCtx, max(remaining, 0), errBudgetExceeded)
		defer stop()
	}

	// interrupted handles the loop context ending for any reason and
	// reports whether the loop must stop.
	interrupted := func() bool {
		if ctx.Err() == nil {
			return false
		}
		cause := context.Cause(ctx)
		switch {
		case r.cancelled.Load() || errors.Is(cause, errCancelRequested):
			e.finishCancelled(runCtx, state, segmentStart)
		case errors.Is(cause, errEngineClosed):
			logger.Info("engine closed, leaving execution in place", "current_node", state.CurrentNode)
		default:
			e.finishFailed(runCtx, state, segmentStart, &Error{
				Kind:    KindPermanent,
				Code:    CodeExecutionTimeout,
				NodeID:  state.CurrentNode,
				Message: fmt.Sprintf("execution exceeded its time budget of %s", budget),
			})
		}
		return true
	}

	for {
		if interrupted() {
			return
		}
		step, err := e.scheduler.Next(ctx, wf, state)
		if err != nil {
			e.finishFailed(runCtx, state, segmentStart, err)
			return
		}
		if step.Terminal {
			e.finishCompleted(runCtx, state, segmentStart)
			return
		}
		node := step.Node
		executor, err := e.executors.Get(node.Type)
		if err != nil {
			e.finishFailed(runCtx, state, segmentStart, ClassifyError(err).WithNode(node.ID))
			return
		}

		ectx := &ExecutionContext{
			ExecutionID:   state.ID,
			WorkflowID:    wf.ID(),
			OwnerID:       state.OwnerID,
			Workflow:      wf,
			SelectedModel: state.SelectedModel,
			DefaultModel:  e.config.DefaultModel,
			Logger:        logger.With("node_id", node.ID),
			Sources:       cache,
		}
		e.emit(ctx, state, &Event{Type: EventNodeStarted, NodeID: node.ID, NodeType: node.Type})
		started := e.now()
		result, err := e.runNode(ctx, node, executor, state, ectx)
		duration := e.now().Sub(started)

		if err != nil {
			if interrupted() {
				return
			}
			failure := ClassifyError(err)
			if failure.NodeID == "" {
				failure = failure.WithNode(node.ID)
			}
			e.emit(ctx, state, &Event{
				Type:     EventNodeFailed,
				NodeID:   node.ID,
				NodeType: node.Type,
				Attempt:  ectx.Attempt,
				Error:    NewExecutionError(failure),
				Duration: duration,
			})
			if node.Optional && failure.Kind == KindTransient {
				logger.Warn("optional node failed, continuing", "node_id", node.ID, "error", failure)
				state = ApplyNodeFailure(state, node.ID, failure)
				state.UpdatedAt = e.now().UTC()
				r.snapshot.Store(state.Clone())
				if !e.checkpointAfter(ctx, wf, node, state, segmentStart) {
					return
				}
				continue
			}
			if failure.Kind == KindTransient {
				failure = &Error{
					Kind:    KindPermanent,
					Code:    CodeExecutionFailed,
					NodeID:  node.ID,
					Message: fmt.Sprintf("node failed after %d attempt(s): %s", ectx.Attempt, failure.Message),
					Details: map[string]any{"cause_code": failure.Code},
					Wrapped: failure,
				}
			}
			e.finishFailed(runCtx, state, segmentStart, failure)
			return
		}

		state = ApplyNodeResult(state, node.ID, result)
		state.UpdatedAt = e.now().UTC()
		r.snapshot.Store(state.Clone())
		e.emit(ctx, state, &Event{
			Type:     EventNodeCompleted,
			NodeID:   node.ID,
			NodeType: node.Type,
			Attempt:  ectx.Attempt,
			Output:   result.Output,
			Branch:   result.Branch,
			Duration: duration,
		})

		if result.IsTerminal {
			if final, ok := result.Output.(map[string]any); ok {
				state.FinalOutput = final
			} else if result.Output != nil {
				state.FinalOutput = map[string]any{"result": result.Output}
			}
			e.finishCompleted(runCtx, state, segmentStart)
			return
		}
		if result.Pause != nil {
			if interrupted() {
				return
			}
			e.pause(runCtx, r, state, node, result.Pause, segmentStart)
			return
		}
		if !e.checkpointAfter(ctx, wf, node, state, segmentStart) {
			return
		}
	}
}

// runNode executes a node under its policy: every attempt is bounded by the
// node timeout and transient failures are retried with a fixed delay.
func (e *Engine) runNode(ctx context.Context, node *Node, executor NodeExecutor, state *ExecutionState, ectx *ExecutionContext) (*NodeResult, error) {
	timeout := node.Policy.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultNodeTimeout
	}
	reader := state.Reader()
	var result *NodeResult
	err := retry.Do(ctx, func() error {
		ectx.Attempt++
		res, err := e.attempt(ctx, node, executor, reader, ectx, timeout)
		if err != nil {
			return err
		}
		result = res
		return nil
	},
		retry.WithMaxRetries(node.Policy.Retries),
		retry.WithBaseWait(node.Policy.RetryDelay),
		retry.WithShouldRetry(func(err error) bool {
			return ctx.Err() == nil && IsTransient(err)
		}),
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			e.emit(ctx, state, &Event{
				Type:     EventNodeRetrying,
				NodeID:   node.ID,
				NodeType: node.Type,
				Attempt:  attempt,
				Error:    NewExecutionError(err),
				Duration: wait,
			})
		}),
	)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &NodeResult{Status: NodeStatusCompleted}
	}
	return result, nil
}

// attempt runs the executor once. The call is abandoned when the timeout
// fires even if the executor ignores its context.
func (e *Engine) attempt(ctx context.Context, node *Node, executor NodeExecutor, state StateReader, ectx *ExecutionContext, timeout time.Duration) (*NodeResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	attemptCtx = WithExecutionContext(WithLogger(attemptCtx, ectx.Logger), ectx)

	type outcome struct {
		result *NodeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: Errorf(CodeNodeFailed, "executor panicked: %v", p)}
			}
		}()
		result, err := executor.Execute(attemptCtx, node, state, ectx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, nodeTimeout(node, timeout, out.err)
		}
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, nodeTimeout(node, timeout, attemptCtx.Err())
	}
}

func nodeTimeout(node *Node, timeout time.Duration, cause error) error {
	return &Error{
		Kind:    KindTransient,
		Code:    CodeNodeTimeout,
		NodeID:  node.ID,
		Message: fmt.Sprintf("node timed out after %s", timeout),
		Wrapped: cause,
	}
}

// checkpointAfter persists the state after a node when the workflow's
// checkpoint mode asks for it. It reports false when the execution failed
// because the checkpoint could not be written.
func (e *Engine) checkpointAfter(ctx context.Context, wf *Workflow, node *Node, state *ExecutionState, segmentStart time.Time) bool {
	if wf.Config().CheckpointMode == CheckpointBoundaries && !node.Checkpoint {
		return true
	}
	if err := e.saveCheckpoint(ctx, state); err != nil {
		e.finishFailed(context.WithoutCancel(ctx), state, segmentStart, err)
		return false
	}
	return true
}

func (e *Engine) saveCheckpoint(ctx context.Context, state *ExecutionState) error {
	cp, err := e.states.SaveCheckpoint(context.WithoutCancel(ctx), state)
	if err != nil {
		return err
	}
	e.emit(ctx, state, &Event{Type: EventCheckpointSaved, NodeID: state.CurrentNode, Bytes: cp.Size})
	return nil
}

func (e *Engine) pause(ctx context.Context, r *run, state *ExecutionState, node *Node, request *HumanRequest, segmentStart time.Time) {
	now := e.now()
	state.Status = ExecutionStatusPaused
	state.ActiveDuration += now.Sub(segmentStart)
	state.UpdatedAt = now.UTC()
	state.Pending = &PendingInput{
		NodeID:         node.ID,
		CorrelationID:  NewCorrelationID(),
		Message:        request.Message,
		Options:        request.Options,
		InputSchema:    request.InputSchema,
		Display:        request.Display,
		OutputVariable: request.OutputVariable,
		RequestedAt:    now.UTC(),
	}
	if err := e.saveCheckpoint(ctx, state); err != nil {
		// The pause never became durable, so the execution cannot be
		// resumed.
		state.Pending = nil
		e.finishFailed(ctx, state, now, err)
		return
	}
	r.snapshot.Store(state.Clone())
	if _, err := e.registry.Update(context.WithoutCancel(ctx), state.ID, ExecutionStatusPaused, nil, now); err != nil {
		e.logger.Error("failed to update registry", "execution_id", state.ID, "error", err)
	}
	// The execution is parked from here on: Respond and Cancel no longer
	// see a running loop, including from sinks handling the paused event.
	e.release(state.ID, r)
	pending := *state.Pending
	e.emit(ctx, state, &Event{Type: EventPaused, NodeID: node.ID, Status: ExecutionStatusPaused, Pending: &pending})
}

func (e *Engine) finishCompleted(ctx context.Context, state *ExecutionState, segmentStart time.Time) {
	e.finish(ctx, state, segmentStart, ExecutionStatusCompleted, nil)
	e.emit(ctx, state, &Event{Type: EventCompleted, Status: ExecutionStatusCompleted, Output: state.FinalOutput})
}

func (e *Engine) finishFailed(ctx context.Context, state *ExecutionState, segmentStart time.Time, err error) {
	recorded := NewExecutionError(err)
	if recorded.NodeID == "" {
		recorded.NodeID = state.CurrentNode
	}
	e.finish(ctx, state, segmentStart, ExecutionStatusFailed, recorded)
	e.emit(ctx, state, &Event{Type: EventFailed, Status: ExecutionStatusFailed, NodeID: recorded.NodeID, Error: recorded})
}

func (e *Engine) finishCancelled(ctx context.Context, state *ExecutionState, segmentStart time.Time) {
	e.finish(ctx, state, segmentStart, ExecutionStatusCancelled, nil)
	e.emit(ctx, state, &Event{Type: EventCancelled, Status: ExecutionStatusCancelled})
}

func (e *Engine) finish(ctx context.Context, state *ExecutionState, segmentStart time.Time, status ExecutionStatus, execErr *ExecutionError) {
	now := e.now()
	state.Status = status
	state.Error = execErr
	state.Pending = nil
	state.ActiveDuration += now.Sub(segmentStart)
	state.FinishedAt = now.UTC()
	state.UpdatedAt = now.UTC()
	e.persistFinal(context.WithoutCancel(ctx), state)
	e.mutex.Lock()
	if r := e.runs[state.ID]; r != nil {
		r.snapshot.Store(state.Clone())
	}
	e.mutex.Unlock()
	e.dropExecution(state.ID)
}

// persistFinal writes a terminal state to the checkpoint store and the
// registry. The registry is written even when the checkpoint is rejected,
// so that the terminal status is never lost.
func (e *Engine) persistFinal(ctx context.Context, state *ExecutionState) {
	if _, err := e.states.SaveCheckpoint(ctx, state); err != nil {
		e.logger.Error("failed to write final checkpoint",
			"execution_id", state.ID, "status", state.Status, "error", err)
	}
	if _, err := e.registry.Update(ctx, state.ID, state.Status, state.Error, state.UpdatedAt); err != nil {
		e.logger.Error("failed to update registry",
			"execution_id", state.ID, "status", state.Status, "error", err)
	}
}

// emit stamps an event and hands it to every sink.
func (e *Engine) emit(ctx context.Context, state *ExecutionState, event *Event) {
	event.ExecutionID = state.ID
	event.WorkflowID = state.WorkflowID
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.sinks.HandleEvent(context.WithoutCancel(ctx), event)
}
