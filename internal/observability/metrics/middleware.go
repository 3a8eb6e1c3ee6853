package metrics

import (
	"net/http"
	"time"
)

// ScrapePath is where the exposition handler is mounted. Scrapes are not
// counted as API traffic.
const ScrapePath = "/metrics"

// ResponseRecorder captures the status and size of a response. Flushing and
// hijacking stay reachable through Unwrap for http.ResponseController.
type ResponseRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

// NewResponseRecorder wraps w. The status reads 200 until a handler writes
// another one.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rr *ResponseRecorder) Status() int {
	return rr.status
}

// BytesWritten reports the number of body bytes sent so far.
func (rr *ResponseRecorder) BytesWritten() int64 {
	return rr.written
}

// WriteHeader records the first status written; later calls are ignored like
// they are by net/http.
func (rr *ResponseRecorder) WriteHeader(status int) {
	if rr.wroteHeader {
		return
	}
	rr.wroteHeader = true
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *ResponseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.written += int64(n)
	return n, err
}

// Flush lets streaming handlers flush through the recorder.
func (rr *ResponseRecorder) Flush() {
	_ = http.NewResponseController(rr.ResponseWriter).Flush()
}

func (rr *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// HTTPMiddleware counts requests, in-flight load and latency on recorder
// (Default when nil).
func HTTPMiddleware(recorder *Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == ScrapePath {
			next.ServeHTTP(w, r)
			return
		}
		rr := NewResponseRecorder(w)
		start := time.Now()
		recorder.RequestStarted()
		defer recorder.RequestFinished()
		next.ServeHTTP(rr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, rr.Status(), time.Since(start))
	})
}
