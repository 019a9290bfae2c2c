package logger

import (
	"context"
	"log/slog"
)

// Attribute keys shared by the HTTP layer, the function and the executor, so
// one request or execution can be followed across their log entries.
const (
	KeyRequestID   = "request_id"
	KeyExecutionID = "execution_id"
	KeyRuleSet     = "rule_set"
)

type contextKey struct{}

// WithContext returns a new context containing the provided logger.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger from the context, or the default logger
// if there is none. It never returns nil.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRequestID tags the context's logger with the ID of the HTTP request
// being served.
func WithRequestID(ctx context.Context, id string) context.Context {
	return WithContext(ctx, FromContext(ctx).With(slog.String(KeyRequestID, id)))
}

// WithExecution tags the context's logger with the ID of a rule execution and
// the rule set it runs.
func WithExecution(ctx context.Context, id, ruleSet string) context.Context {
	return WithContext(ctx, FromContext(ctx).With(
		slog.String(KeyExecutionID, id),
		slog.String(KeyRuleSet, ruleSet),
	))
}
