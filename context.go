package flowgraph

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerContextKey    contextKey = "logger"
	executionContextKey contextKey = "execution"
)

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext returns the logger attached to ctx, or a discard logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return NewDiscardLogger()
}

// WithExecutionContext attaches the running node's execution context to ctx
// so that collaborators such as tools can see which execution called them.
func WithExecutionContext(ctx context.Context, ectx *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey, ectx)
}

// ExecutionContextFrom returns the execution context attached to ctx.
func ExecutionContextFrom(ctx context.Context) (*ExecutionContext, bool) {
	ectx, ok := ctx.Value(executionContextKey).(*ExecutionContext)
	return ectx, ok
}
