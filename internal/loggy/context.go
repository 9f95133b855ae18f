package loggy

import (
	"context"

	"github.com/tildaslashalef/kbpicker/internal/ulid"
)

type contextKey string

const (
	loggerKey      contextKey = "logger"
	operationIDKey contextKey = "operation_id"
)

// FromContext retrieves the logger from the context, falling back to the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return globalLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
		return logger
	}
	return globalLogger
}

// WithLogger returns a new context with the logger attached
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// OperationID returns the operation id stored in ctx, if any
func OperationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(operationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithOperation tags ctx with a fresh operation id and a logger carrying it.
// An id already present in ctx is reused.
func WithOperation(ctx context.Context, base *Logger, name string) (context.Context, *Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := OperationID(ctx)
	if id == "" {
		id = ulid.OperationID()
		ctx = context.WithValue(ctx, operationIDKey, id)
	}
	if base == nil {
		base = FromContext(ctx)
	}
	logger := base.With("operation", name, "operation_id", id)
	return WithLogger(ctx, logger), logger
}
