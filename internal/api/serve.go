package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"apikit/internal/observability/logging"
	"apikit/internal/observability/metrics"
	"apikit/internal/store"
)

// DebugParam is the parameter that exposes internal failure details.
const DebugParam = "debug"

// Serve runs Process and converts every handler or hook failure, including
// panics, into Response(500, "Server error."). The error message and stack
// are included only when the call carries a truthy debug parameter.
func (d *Dispatcher) Serve(ctx context.Context, req *Request, src store.Source) (resp Response) {
	if req == nil {
		req = &Request{}
	}
	ctx = logging.ContextWithMethod(ctx, req.Method)
	ctx = ContextWithClientIP(ctx, req.ClientIP)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			d.observe(req.Method, metrics.OutcomeError, time.Since(start))
			resp = d.serverError(ctx, req, fmt.Errorf("panic: %v", rec), debug.Stack())
		}
	}()

	resp, err := d.Process(ctx, req, src)
	if err != nil {
		return d.serverError(ctx, req, err, debug.Stack())
	}
	return resp
}

func (d *Dispatcher) serverError(ctx context.Context, req *Request, err error, stack []byte) Response {
	d.requestLogger(ctx).ErrorContext(ctx, "method failed", "error", err)
	var detail map[string]any
	if req.Params.Bool(DebugParam) {
		detail = map[string]any{"server": map[string]any{
			"error_message":   err.Error(),
			"error_traceback": string(stack),
		}}
	}
	return Error(http.StatusInternalServerError, http.StatusInternalServerError, "Server error.", detail)
}
