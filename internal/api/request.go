package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// foldKey normalises a parameter or header name for case-insensitive lookup.
// A Caser holds state, so one is built per call.
func foldKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Params is the merged query and body parameter mapping of one call. Keys
// are case-folded.
type Params map[string]any

// NewParams copies values into a Params, folding every key. Later keys win
// when two names fold to the same key.
func NewParams(values map[string]any) Params {
	p := make(Params, len(values))
	for k, v := range values {
		p[foldKey(k)] = v
	}
	return p
}

// Set stores value under name.
func (p Params) Set(name string, value any) {
	p[foldKey(name)] = value
}

// Get returns the raw value stored under name.
func (p Params) Get(name string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p[foldKey(name)]
	return v, ok
}

// Has reports whether name holds a usable value. Null and empty strings
// count as missing.
func (p Params) Has(name string) bool {
	v, ok := p.Get(name)
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

// String returns the value under name as text, or "" when absent.
func (p Params) String(name string) string {
	v, ok := p.Get(name)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		if len(t) == 0 {
			return ""
		}
		return t[0]
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int parses the value under name as a base-10 integer.
func (p Params) Int(name string) (int64, bool) {
	v, ok := p.Get(name)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(p.String(name)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Bool reports whether the value under name is truthy. Absent, null, false,
// zero, "", "0" and "false" are falsy; anything else is truthy.
func (p Params) Bool(name string) bool {
	v, ok := p.Get(name)
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	s := strings.TrimSpace(p.String(name))
	return s != "" && s != "0" && !strings.EqualFold(s, "false")
}

// Headers is a case-insensitive view of request headers holding the first
// value of each.
type Headers map[string]string

// NewHeaders folds header names. It accepts an http.Header directly.
func NewHeaders(values map[string][]string) Headers {
	h := make(Headers, len(values))
	for k, vs := range values {
		if len(vs) == 0 {
			continue
		}
		h[foldKey(k)] = vs[0]
	}
	return h
}

// Get returns the header value for name.
func (h Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[foldKey(name)]
	return v, ok
}

// Request is one call to a named method.
type Request struct {
	Method   string
	Params   Params
	Headers  Headers
	ClientIP string
}

type contextKey string

const clientIPKey contextKey = "client_ip"

// ContextWithClientIP records the caller's address for handlers.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the caller's address, or "unknown".
func ClientIPFromContext(ctx context.Context) string {
	if ctx != nil {
		if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
			return ip
		}
	}
	return "unknown"
}
