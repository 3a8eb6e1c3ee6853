package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"apikit/internal/observability/logging"
)

const (
	requestIDHeader   = "X-Request-Id"
	maxRequestIDBytes = 128
)

// acceptRequestID reports whether a client-supplied id can be echoed back and
// logged as is: non-empty, bounded, visible ASCII only.
func acceptRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDBytes {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

func requestIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(logger, uuid.NewString, next)
}

// requestIDMiddlewareWithGenerator tags each request with an id, reusing the
// client's X-Request-Id when acceptable, and stores a logger carrying it.
func requestIDMiddlewareWithGenerator(logger *slog.Logger, newID func() string, next http.Handler) http.Handler {
	if newID == nil {
		newID = uuid.NewString
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !acceptRequestID(id) {
			id = newID()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := logging.ContextWithRequestID(r.Context(), id)
		if logger != nil {
			ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logger))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
