package flowgraph

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

// EventLog is an EventSink that appends every event to a newline-delimited
// JSON file per execution. Unlike the in-memory broker it survives restarts,
// so the history of old executions can be replayed.
type EventLog struct {
	directory string
	logger    *slog.Logger
	mutex     sync.Mutex
}

// NewEventLog returns an event log writing under directory.
func NewEventLog(directory string, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return &EventLog{directory: directory, logger: logger}
}

func (l *EventLog) path(executionID string) (string, error) {
	if executionID == "" || filepath.Base(executionID) != executionID {
		return "", fmt.Errorf("invalid execution id %q", executionID)
	}
	return filepath.Join(l.directory, executionID+".jsonl"), nil
}

// HandleEvent appends the event. Keep-alives are skipped and write errors
// are logged rather than returned.
func (l *EventLog) HandleEvent(ctx context.Context, event *Event) {
	if event.Type == EventKeepAlive {
		return
	}
	if err := l.Append(event); err != nil {
		l.logger.Warn("failed to append event",
			"execution_id", event.ExecutionID, "type", event.Type, "error", err)
	}
}

// Append writes one event and syncs the file.
func (l *EventLog) Append(event *Event) error {
	path, err := l.path(event.ExecutionID)
	if err != nil {
		return err
	}
	data, err := xjson.Marshal(event)
	if err != nil {
		return err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := os.MkdirAll(l.directory, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// History returns every logged event of an execution in order. An
// execution with no log has an empty history.
func (l *EventLog) History(executionID string) ([]*Event, error) {
	path, err := l.path(executionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var events []*Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event Event
		if err := xjson.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("corrupt event log %s: %w", path, err)
		}
		events = append(events, &event)
	}
	return events, scanner.Err()
}

// Remove deletes the log of an execution.
func (l *EventLog) Remove(executionID string) error {
	path, err := l.path(executionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
