package flowgraph

import (
	"context"
	"log/slog"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventStarted         EventType = "started"
	EventNodeStarted     EventType = "node.started"
	EventNodeCompleted   EventType = "node.completed"
	EventNodeFailed      EventType = "node.failed"
	EventNodeRetrying    EventType = "node.retrying"
	EventPaused          EventType = "paused"
	EventResumed         EventType = "resumed"
	EventCompleted       EventType = "completed"
	EventFailed          EventType = "failed"
	EventCancelled       EventType = "cancelled"
	EventCheckpointSaved EventType = "checkpoint.saved"
	EventKeepAlive       EventType = "keepalive"
)

// IsTerminal reports whether no further events follow this one.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	}
	return false
}

// Event is one entry of an execution's append-only event sequence.
type Event struct {
	// Sequence numbers events of one execution from 1. Keep-alive events
	// are not part of the sequence and carry 0.
	Sequence    int64           `json:"sequence"`
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
	NodeType    NodeType        `json:"node_type,omitempty"`
	Status      ExecutionStatus `json:"status,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	Output      any             `json:"output,omitempty"`
	Branch      string          `json:"branch,omitempty"`
	Error       *ExecutionError `json:"error,omitempty"`
	Pending     *PendingInput   `json:"pending,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
	Bytes       int             `json:"bytes,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// EventSink receives every event the engine emits. Sinks are called from
// the run loop and must not block for long.
type EventSink interface {
	HandleEvent(ctx context.Context, event *Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event *Event)

func (f EventSinkFunc) HandleEvent(ctx context.Context, event *Event) {
	f(ctx, event)
}

// SinkChain fans events out to several sinks in order.
type SinkChain struct {
	sinks []EventSink
}

// NewSinkChain creates a new sink chain
func NewSinkChain(sinks ...EventSink) *SinkChain {
	c := &SinkChain{}
	for _, sink := range sinks {
		c.Add(sink)
	}
	return c
}

// Add appends a sink to the chain
func (c *SinkChain) Add(sink EventSink) {
	if sink != nil {
		c.sinks = append(c.sinks, sink)
	}
}

func (c *SinkChain) HandleEvent(ctx context.Context, event *Event) {
	for _, sink := range c.sinks {
		sink.HandleEvent(ctx, event)
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) HandleEvent(ctx context.Context, event *Event) {
	attrs := []any{
		"execution_id", event.ExecutionID,
		"event", string(event.Type),
	}
	if event.NodeID != "" {
		attrs = append(attrs, "node_id", event.NodeID)
	}
	if event.Attempt > 1 {
		attrs = append(attrs, "attempt", event.Attempt)
	}
	if event.Branch != "" {
		attrs = append(attrs, "branch", event.Branch)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration", event.Duration)
	}
	switch event.Type {
	case EventFailed, EventNodeFailed:
		if event.Error != nil {
			attrs = append(attrs, "code", event.Error.Code, "error", event.Error.Message)
		}
		s.logger.Error("execution event", attrs...)
	case EventNodeRetrying:
		if event.Error != nil {
			attrs = append(attrs, "error", event.Error.Message)
		}
		s.logger.Warn("execution event", attrs...)
	case EventCheckpointSaved:
		s.logger.Debug("execution event", attrs...)
	default:
		s.logger.Info("execution event", attrs...)
	}
}
