package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// MethodLabel identifies a dispatched API method and how its call ended.
type MethodLabel struct {
	Method  string
	Outcome string
}

// Outcomes reported for dispatched methods.
const (
	OutcomeOK               = "ok"
	OutcomeUnknownMethod    = "unknown_method"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeAdminRequired    = "admin_required"
	OutcomeMissingParameter = "missing_parameter"
	OutcomeRateLimited      = "rate_limited"
	OutcomeError            = "error"
)

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// dispatched API methods, token issuance and store connectivity.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	methodCount     map[MethodLabel]uint64
	methodDuration  map[MethodLabel]time.Duration
	storeConnected  map[string]bool
	tokensIssued    atomic.Uint64
	inFlight        atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		methodCount:     make(map[MethodLabel]uint64),
		methodDuration:  make(map[MethodLabel]time.Duration),
		storeConnected:  make(map[string]bool),
	}
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveMethod records one dispatched call of an API method.
func (r *Recorder) ObserveMethod(method, outcome string, duration time.Duration) {
	label := MethodLabel{Method: normalizeName(method), Outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.methodCount[label]++
	r.methodDuration[label] += duration
	r.mu.Unlock()
}

// SetStoreConnected records whether the named store currently holds a live
// connection.
func (r *Recorder) SetStoreConnected(name string, connected bool) {
	r.mu.Lock()
	r.storeConnected[normalizeName(name)] = connected
	r.mu.Unlock()
}

// TokenIssued counts a newly generated access token.
func (r *Recorder) TokenIssued() {
	r.tokensIssued.Add(1)
}

// RequestStarted increments the in-flight gauge.
func (r *Recorder) RequestStarted() {
	r.inFlight.Add(1)
}

// RequestFinished decrements the in-flight gauge without going negative.
func (r *Recorder) RequestFinished() {
	r.decrementGauge(&r.inFlight)
}

// InFlight exposes the current in-flight request gauge.
func (r *Recorder) InFlight() int64 {
	return r.inFlight.Load()
}

// MethodCounts returns a copy of the per-method outcome counters.
func (r *Recorder) MethodCounts() map[MethodLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[MethodLabel]uint64, len(r.methodCount))
	for k, v := range r.methodCount {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.methodCount = make(map[MethodLabel]uint64)
	r.methodDuration = make(map[MethodLabel]time.Duration)
	r.storeConnected = make(map[string]bool)
	r.tokensIssued.Store(0)
	r.inFlight.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	methodLabels := r.sortedMethodLabels()
	stores := r.sortedStores()

	fmt.Fprintln(w, "# HELP apikit_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE apikit_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "apikit_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP apikit_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE apikit_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "apikit_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP apikit_http_requests_in_flight Requests currently being served")
	fmt.Fprintln(w, "# TYPE apikit_http_requests_in_flight gauge")
	fmt.Fprintf(w, "apikit_http_requests_in_flight %d\n", r.inFlight.Load())

	fmt.Fprintln(w, "# HELP apikit_method_calls_total Dispatched API method calls by outcome")
	fmt.Fprintln(w, "# TYPE apikit_method_calls_total counter")
	for _, label := range methodLabels {
		fmt.Fprintf(w, "apikit_method_calls_total{method=\"%s\",outcome=\"%s\"} %d\n", label.Method, label.Outcome, r.methodCount[label])
	}

	fmt.Fprintln(w, "# HELP apikit_method_duration_seconds_sum Cumulative time spent in dispatched API methods")
	fmt.Fprintln(w, "# TYPE apikit_method_duration_seconds_sum counter")
	for _, label := range methodLabels {
		fmt.Fprintf(w, "apikit_method_duration_seconds_sum{method=\"%s\",outcome=\"%s\"} %f\n", label.Method, label.Outcome, r.methodDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP apikit_store_connected Whether each configured store holds a live connection (1=yes)")
	fmt.Fprintln(w, "# TYPE apikit_store_connected gauge")
	for _, name := range stores {
		value := 0
		if r.storeConnected[name] {
			value = 1
		}
		fmt.Fprintf(w, "apikit_store_connected{store=\"%s\"} %d\n", name, value)
	}

	fmt.Fprintln(w, "# HELP apikit_tokens_issued_total Access tokens generated")
	fmt.Fprintln(w, "# TYPE apikit_tokens_issued_total counter")
	fmt.Fprintf(w, "apikit_tokens_issued_total %d\n", r.tokensIssued.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedMethodLabels() []MethodLabel {
	labels := make([]MethodLabel, 0, len(r.methodCount))
	for label := range r.methodCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Method != labels[j].Method {
			return labels[i].Method < labels[j].Method
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedStores() []string {
	names := make([]string, 0, len(r.storeConnected))
	for name := range r.storeConnected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalizePath collapses method names and identifier-like segments so the
// request label set stays bounded. Per-method detail lives in the method
// counters.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i > 0 && parts[i-1] == "method" {
			parts[i] = ":name"
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveMethod records a method call on the default recorder.
func ObserveMethod(method, outcome string, duration time.Duration) {
	defaultRecorder.ObserveMethod(method, outcome, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
