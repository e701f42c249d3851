package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	errCancelRequested = errors.New("execution cancelled")
	errEngineClosed    = errors.New("engine closed")
	errBudgetExceeded  = errors.New("execution time budget exceeded")
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Workflows WorkflowProvider
	Executors []NodeExecutor
	// Store holds checkpoints and the registry index. Defaults to an
	// in-memory store.
	Store   Store
	Sources SourceProvider
	Sinks   []EventSink
	Logger  *slog.Logger
	Config  EngineConfig
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// CreateOptions are per-execution settings supplied by the caller.
type CreateOptions struct {
	OwnerID string
	// Model is the user-selected model for agent nodes.
	Model string
	// ExecutionID overrides the generated execution id.
	ExecutionID string
}

// Engine drives executions from creation to a terminal state. It is safe for
// concurrent use; each execution is advanced by exactly one run loop at a
// time.
type Engine struct {
	workflows WorkflowProvider
	executors *ExecutorSet
	states    *StateManager
	registry  *Registry
	broker    *EventBroker
	sinks     *SinkChain
	scheduler *Scheduler
	sources   SourceProvider
	logger    *slog.Logger
	config    EngineConfig
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mutex  sync.Mutex
	closed bool
	runs   map[string]*run
	caches map[string]*SourceCache
	locks  map[string]*executionLock
}

// run is the handle of one active run loop.
type run struct {
	cancel    context.CancelCauseFunc
	done      chan struct{}
	cancelled atomic.Bool
	snapshot  atomic.Pointer[ExecutionState]
}

// NewEngine returns an engine. Call Recover once at process start to load
// the registry and fail executions interrupted by a previous crash.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Workflows == nil {
		return nil, fmt.Errorf("workflow provider is required")
	}
	if len(opts.Executors) == 0 {
		return nil, fmt.Errorf("executors are required")
	}
	cfg, err := opts.Config.WithDefaults()
	if err != nil {
		return nil, err
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = NewDiscardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	broker := NewEventBroker(cfg.KeepAlive, WithRetention(cfg.EventRetention))
	sinks := NewSinkChain(broker, NewLogSink(opts.Logger))
	for _, sink := range opts.Sinks {
		sinks.Add(sink)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Engine{
		workflows: opts.Workflows,
		executors: NewExecutorSet(opts.Executors...),
		states:    NewStateManager(opts.Store, WithMaxCheckpointBytes(cfg.MaxCheckpointBytes), WithClock(opts.Clock)),
		registry:  NewRegistry(opts.Store, opts.Logger),
		broker:    broker,
		sinks:     sinks,
		scheduler: NewScheduler(),
		sources:   opts.Sources,
		logger:    opts.Logger,
		config:    cfg,
		now:       opts.Clock,
		ctx:       ctx,
		cancel:    cancel,
		runs:      map[string]*run{},
		caches:    map[string]*SourceCache{},
		locks:     map[string]*executionLock{},
	}, nil
}

// Registry returns the engine's execution registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Broker returns the engine's event broker.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// CreateExecution validates the initial data against the workflow's start
// node, persists a pending execution and starts its run loop in the
// background. The returned id can be used with every other operation.
func (e *Engine) CreateExecution(ctx context.Context, workflowID string, inputs map[string]any, opts CreateOptions) (string, error) {
	if e.isClosed() {
		return "", ErrEngineClosed
	}
	wf, err := e.workflows.Workflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	startCfg, err := wf.StartConfig()
	if err != nil {
		return "", ValidationError([]string{err.Error()})
	}
	if _, err := ResolveInputs(startCfg, inputs); err != nil {
		var structured *Error
		if errors.As(err, &structured) {
			return "", structured.WithNode(wf.Start().ID)
		}
		return "", err
	}

	id := opts.ExecutionID
	if id == "" {
		id = NewExecutionID()
	}
	now := e.now().UTC()
	state := NewExecutionState(id, wf.ID(), opts.OwnerID, inputs, now)
	state.SelectedModel = opts.Model

	if _, err := e.registry.Get(ctx, id); err == nil {
		return "", fmt.Errorf("execution %s already exists", id)
	}
	if _, err := e.states.SaveCheckpoint(ctx, state); err != nil {
		return "", err
	}
	if err := e.registry.Register(ctx, &RegistryEntry{
		ExecutionID: id,
		WorkflowID:  wf.ID(),
		OwnerID:     opts.OwnerID,
		Status:      ExecutionStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return "", err
	}
	if err := e.launch(wf, state); err != nil {
		return "", err
	}
	return id, nil
}

// GetExecution returns a snapshot of an execution. Active executions report
// their in-memory state; others are read from their checkpoint, with the
// registry's status taking precedence when the two disagree.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*ExecutionState, error) {
	e.mutex.Lock()
	r := e.runs[executionID]
	e.mutex.Unlock()
	if r != nil {
		if snapshot := r.snapshot.Load(); snapshot != nil {
			return snapshot.Clone(), nil
		}
	}

	entry, err := e.registry.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	state, err := e.states.LoadCheckpoint(ctx, executionID)
	if errors.Is(err, ErrCheckpointNotFound) {
		state = NewExecutionState(entry.ExecutionID, entry.WorkflowID, entry.OwnerID, nil, entry.CreatedAt)
	} else if err != nil {
		return nil, err
	}
	if state.Status != entry.Status {
		state.Status = entry.Status
		if entry.ErrorCode != "" && (state.Error == nil || state.Error.Code != entry.ErrorCode) {
			state.Error = &ExecutionError{Code: entry.ErrorCode, NodeID: entry.ErrorNodeID}
		}
	}
	return state, nil
}

// StreamEvents subscribes to an execution's event sequence. The channel
// replays every event recorded so far, then delivers live events and
// periodic keep-alives, and is closed after a terminal event or when ctx is
// done.
func (e *Engine) StreamEvents(ctx context.Context, executionID string) (<-chan *Event, error) {
	entry, err := e.registry.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	e.mutex.Lock()
	active := e.runs[executionID] != nil
	e.mutex.Unlock()
	if !active && entry.Status.IsTerminal() {
		if ch, ok := e.broker.SubscribeExisting(ctx, executionID); ok {
			return ch, nil
		}
		// Finished before this process started, or its log has expired:
		// only the outcome is known.
		ch := make(chan *Event, 1)
		ch <- &Event{
			Type:        terminalEventType(entry.Status),
			ExecutionID: entry.ExecutionID,
			WorkflowID:  entry.WorkflowID,
			Status:      entry.Status,
			Timestamp:   entry.UpdatedAt,
		}
		close(ch)
		return ch, nil
	}
	return e.broker.Subscribe(ctx, executionID), nil
}

// Respond resumes an execution paused at a human checkpoint. The
// correlation id must match the pending checkpoint; otherwise
// INVALID_STATE_FOR_RESUME is returned and the execution is left exactly as
// it was.
func (e *Engine) Respond(ctx context.Context, executionID, correlationID string, response map[string]any) error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	unlock := e.lock(executionID)
	defer unlock()

	e.mutex.Lock()
	active := e.runs[executionID] != nil
	e.mutex.Unlock()
	if active {
		return invalidResume(executionID, "execution is running")
	}
	entry, err := e.registry.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if entry.Status != ExecutionStatusPaused {
		return invalidResume(executionID, fmt.Sprintf("execution is %s, not paused", entry.Status))
	}
	state, err := e.states.LoadCheckpoint(ctx, executionID)
	if err != nil {
		return err
	}
	if state.Status != ExecutionStatusPaused || state.Pending == nil {
		return invalidResume(executionID, "execution has no pending checkpoint")
	}
	if state.Pending.CorrelationID != correlationID {
		return invalidResume(executionID, "correlation id does not match the pending checkpoint")
	}
	if err := validateResponse(state.Pending, response); err != nil {
		return err
	}
	wf, err := e.workflows.Workflow(ctx, state.WorkflowID)
	if err != nil {
		return err
	}
	return e.launch(wf, ApplyHumanResponse(state, response))
}

// Cancel stops a running or paused execution and records it as cancelled.
// Cancelling a finished execution is a no-op. For running executions the
// call waits until the run loop has exited or ctx is done; a loop that
// reached a human checkpoint in the meantime is cancelled as paused.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	var unlock func()
	for {
		unlock = e.lock(executionID)
		e.mutex.Lock()
		r := e.runs[executionID]
		e.mutex.Unlock()
		if r == nil {
			break
		}
		unlock()
		r.cancelled.Store(true)
		r.cancel(errCancelRequested)
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer unlock()

	entry, err := e.registry.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if entry.Status.IsTerminal() {
		return nil
	}
	state, err := e.states.LoadCheckpoint(ctx, executionID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	state.Status = ExecutionStatusCancelled
	state.Pending = nil
	state.FinishedAt = now
	state.UpdatedAt = now
	e.persistFinal(ctx, state)
	e.emit(ctx, state, &Event{Type: EventCancelled, Status: ExecutionStatusCancelled})
	e.dropExecution(executionID)
	return nil
}

// ListExecutions lists registry entries. It never loads checkpoints.
func (e *Engine) ListExecutions(ctx context.Context, query ListQuery) (*ListResult, error) {
	return e.registry.List(ctx, query)
}

// Wait blocks until the execution has no active run loop, then returns its
// snapshot. A paused execution counts as parked.
func (e *Engine) Wait(ctx context.Context, executionID string) (*ExecutionState, error) {
	e.mutex.Lock()
	r := e.runs[executionID]
	e.mutex.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.GetExecution(ctx, executionID)
}

// Recover loads the registry and marks every execution that was running
// when the previous process stopped as failed with EXECUTION_INTERRUPTED.
// Paused executions stay resumable. The ids of failed executions are
// returned.
func (e *Engine) Recover(ctx context.Context) ([]string, error) {
	if err := e.registry.Load(ctx); err != nil {
		return nil, err
	}
	entries, err := e.registry.RecoverInterrupted(ctx, e.now())
	var ids []string
	for _, entry := range entries {
		ids = append(ids, entry.ExecutionID)
		state, loadErr := e.states.LoadCheckpoint(ctx, entry.ExecutionID)
		if loadErr != nil {
			e.logger.Warn("interrupted execution has no readable checkpoint",
				"execution_id", entry.ExecutionID, "error", loadErr)
			continue
		}
		now := e.now().UTC()
		state.Status = ExecutionStatusFailed
		state.Error = &ExecutionError{
			Code:    CodeExecutionInterrupted,
			NodeID:  state.CurrentNode,
			Message: "execution was interrupted by a process restart",
		}
		state.FinishedAt = now
		state.UpdatedAt = now
		if _, saveErr := e.states.SaveCheckpoint(ctx, state); saveErr != nil {
			e.logger.Error("failed to checkpoint interrupted execution",
				"execution_id", entry.ExecutionID, "error", saveErr)
		}
		if state.Error.NodeID != "" {
			if _, updateErr := e.registry.Update(ctx, entry.ExecutionID, ExecutionStatusFailed, state.Error, now); updateErr != nil {
				err = errors.Join(err, updateErr)
			}
		}
	}
	return ids, err
}

// Close stops every run loop and waits for them to exit. Persisted statuses
// are left as they are, so executions that were running are picked up by
// Recover in the next process.
func (e *Engine) Close() error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil
	}
	e.closed = true
	e.mutex.Unlock()
	e.cancel(errEngineClosed)
	e.wg.Wait()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.closed
}

// lock serializes state transitions of one execution that happen outside
// its run loop. Entries are reference counted and removed once unused.
func (e *Engine) lock(executionID string) func() {
	e.mutex.Lock()
	l, ok := e.locks[executionID]
	if !ok {
		l = &executionLock{}
		e.locks[executionID] = l
	}
	l.refs++
	e.mutex.Unlock()
	l.mutex.Lock()
	return func() {
		l.mutex.Unlock()
		e.mutex.Lock()
		defer e.mutex.Unlock()
		if l.refs--; l.refs == 0 {
			delete(e.locks, executionID)
		}
	}
}

type executionLock struct {
	mutex sync.Mutex
	refs  int
}

// release unregisters r unless another run loop of the execution has
// already taken its place.
func (e *Engine) release(executionID string, r *run) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.runs[executionID] == r {
		delete(e.runs, executionID)
	}
}

// launch registers a run loop for the execution and starts it.
func (e *Engine) launch(wf *Workflow, state *ExecutionState) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrEngineClosed
	}
	if _, exists := e.runs[state.ID]; exists {
		e.mutex.Unlock()
		return invalidResume(state.ID, "execution is already running")
	}
	ctx, cancel := context.WithCancelCause(e.ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	r.snapshot.Store(state.Clone())
	e.runs[state.ID] = r
	cache, ok := e.caches[state.ID]
	if !ok {
		cache = NewSourceCache(e.sources)
		e.caches[state.ID] = cache
	}
	e.wg.Add(1)
	e.mutex.Unlock()

	go func() {
		defer e.wg.Done()
		defer close(r.done)
		defer func() {
			e.release(state.ID, r)
			cancel(nil)
		}()
		e.execute(ctx, r, wf, state, cache)
	}()
	return nil
}

// dropExecution releases per-execution resources once it is terminal.
func (e *Engine) dropExecution(executionID string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.caches, executionID)
}

func invalidResume(executionID, reason string) error {
	return &Error{
		Kind:    KindStateMismatch,
		Code:    CodeInvalidStateForResume,
		Message: fmt.Sprintf("execution %s: %s", executionID, reason),
	}
}

// validateResponse checks a human response against the pending request.
func validateResponse(pending *PendingInput, response map[string]any) error {
	var problems []string
	if required, ok := pending.InputSchema["required"].([]any); ok {
		for _, field := range required {
			name, _ := field.(string)
			if _, present := response[name]; name != "" && !present {
				problems = append(problems, fmt.Sprintf("response field %q is required", name))
			}
		}
	}
	if len(pending.Options) > 0 {
		if choice, ok := response["choice"]; ok {
			text, _ := choice.(string)
			valid := false
			for _, option := range pending.Options {
				if option == text {
					valid = true
					break
				}
			}
			if !valid {
				problems = append(problems, fmt.Sprintf("choice %v is not one of %v", choice, pending.Options))
			}
		}
	}
	if len(problems) > 0 {
		err := ValidationError(problems)
		err.NodeID = pending.NodeID
		return err
	}
	return nil
}

func terminalEventType(status ExecutionStatus) EventType {
	switch status {
	case ExecutionStatusCompleted:
		return EventCompleted
	case ExecutionStatusCancelled:
		return EventCancelled
	}
	return EventFailed
}
