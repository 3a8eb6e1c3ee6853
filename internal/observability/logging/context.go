package logging

import (
	"context"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	fieldsKey ctxKey = iota
	loggerKey
)

// requestFields are the per-request values WithContext adds to a logger.
type requestFields struct {
	requestID string
	method    string
}

func fieldsFrom(ctx context.Context) requestFields {
	if ctx == nil {
		return requestFields{}
	}
	f, _ := ctx.Value(fieldsKey).(requestFields)
	return f
}

// ContextWithRequestID stores id on ctx. Blank ids leave ctx unchanged.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	f := fieldsFrom(ctx)
	f.requestID = id
	return context.WithValue(ctx, fieldsKey, f)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id := fieldsFrom(ctx).requestID
	return id, id != ""
}

// ContextWithMethod stores the API method being dispatched. Blank names leave
// ctx unchanged.
func ContextWithMethod(ctx context.Context, name string) context.Context {
	name = strings.TrimSpace(name)
	if name == "" {
		return ctx
	}
	f := fieldsFrom(ctx)
	f.method = name
	return context.WithValue(ctx, fieldsKey, f)
}

func MethodFromContext(ctx context.Context) (string, bool) {
	name := fieldsFrom(ctx).method
	return name, name != ""
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored on ctx, or nil.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey).(*slog.Logger)
	return logger
}

// WithContext adds request_id and api_method from ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	f := fieldsFrom(ctx)
	var attrs []any
	if f.requestID != "" {
		attrs = append(attrs, "request_id", f.requestID)
	}
	if f.method != "" {
		attrs = append(attrs, "api_method", f.method)
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
