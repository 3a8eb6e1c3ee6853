package server

import (
	"context"
	"log/slog"
	"net/http"

	"apikit/internal/observability/logging"
)

// loggingWithRequest returns a logger annotated with the request path and the
// resolved client address on top of the context fields.
func loggingWithRequest(base *slog.Logger, r *http.Request) *slog.Logger {
	if base == nil || r == nil {
		return nil
	}
	logger := loggerWithRequestContext(r.Context(), base)
	return logger.With(
		"path", r.URL.Path,
		"remote_ip", extractClientIP(r),
	)
}

func loggerWithRequestContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctxLogger := logging.LoggerFromContext(ctx); ctxLogger != nil {
		return ctxLogger
	}
	return logging.WithContext(ctx, logger)
}
