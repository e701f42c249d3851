package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/deepnoodle-ai/flowgraph/expression"
	"github.com/deepnoodle-ai/flowgraph/retry"
)

// NewEchoTool returns its parameters unchanged.
func NewEchoTool() Tool {
	return Func("echo", "Returns the given parameters unchanged.", func(ctx context.Context, params map[string]any) (any, error) {
		out := make(map[string]any, len(params))
		for k, v := range params {
			out[k] = v
		}
		return out, nil
	})
}

type printParams struct {
	Message any `json:"message"`
}

// NewPrintTool writes the message parameter to w.
func NewPrintTool(w io.Writer) Tool {
	return Typed("print", "Prints a message.", func(ctx context.Context, params printParams) (bool, error) {
		if params.Message == nil {
			return false, retry.Permanent(errors.New("print requires a 'message' parameter"))
		}
		if _, err := fmt.Fprintln(w, expression.Format(params.Message)); err != nil {
			return false, err
		}
		return true, nil
	})
}

type timeParams struct {
	UTC    bool   `json:"utc"`
	Format string `json:"format"`
}

// NewTimeTool returns the current time, formatted as RFC 3339 unless a Go
// layout is given.
func NewTimeTool(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Typed("time", "Returns the current time.", func(ctx context.Context, params timeParams) (string, error) {
		t := now()
		if params.UTC {
			t = t.UTC()
		}
		layout := params.Format
		if layout == "" {
			layout = time.RFC3339
		}
		return t.Format(layout), nil
	})
}

type waitParams struct {
	Duration any `json:"duration"`
}

// NewWaitTool sleeps for a duration given as a Go duration string or a
// number of seconds. It returns early when the context ends.
func NewWaitTool() Tool {
	return Typed("wait", "Waits for the given duration.", func(ctx context.Context, params waitParams) (map[string]any, error) {
		duration, err := parseDuration(params.Duration)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		return map[string]any{"waited": duration.String()}, nil
	})
}

func parseDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, errors.New("wait requires a 'duration' parameter")
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %w", err)
		}
		return d, nil
	}
	if seconds, ok := expression.ToFloat(value); ok {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("duration must be a string or a number of seconds, got %T", value)
}

type failParams struct {
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}

// NewFailTool always fails. It is useful for exercising retry and failure
// paths in workflows.
func NewFailTool() Tool {
	return Typed("fail", "Always fails with the given message.", func(ctx context.Context, params failParams) (any, error) {
		message := params.Message
		if message == "" {
			message = "intentional failure"
		}
		err := errors.New(message)
		if params.Transient {
			return nil, retry.Transient(err)
		}
		return nil, retry.Permanent(err)
	})
}
