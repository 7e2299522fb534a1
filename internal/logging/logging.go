// Package logging provides slog helpers shared across the application:
// structured operation/error logging, context plumbing for loggers, and
// safe resource cleanup that reports failures instead of swallowing them.
package logging

import (
	"context"
	"io"
	"log/slog"
	"time"
)

type contextKey struct{}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in the context, or slog.Default()
// when none is present.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// LogOperation records a named operation at info level. Operation names are
// snake_case event identifiers, e.g. "window_refresh_completed".
func LogOperation(logger *slog.Logger, operation string, attrs ...slog.Attr) {
	logger.LogAttrs(context.Background(), slog.LevelInfo, operation, attrs...)
}

// LogError records an error with its message and any additional attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+1)
	all = append(all, slog.String("error", err.Error()))
	all = append(all, attrs...)
	logger.LogAttrs(context.Background(), slog.LevelError, msg, all...)
}

// LogSlowQuery records a performance warning for a query that exceeded its
// expected duration bound. Slow queries are warnings, not errors.
func LogSlowQuery(logger *slog.Logger, operation string, elapsed time.Duration, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+1)
	all = append(all, slog.Duration("elapsed", elapsed))
	all = append(all, attrs...)
	logger.LogAttrs(context.Background(), slog.LevelWarn, operation, all...)
}

// SafeCloseWithLogging closes the given resource and logs any close error
// under the provided resource name.
func SafeCloseWithLogging(closer io.Closer, logger *slog.Logger, name string) {
	if err := closer.Close(); err != nil {
		LogError(logger, "failed to close resource", err, slog.String("resource", name))
	}
}
