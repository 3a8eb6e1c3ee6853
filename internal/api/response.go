package api

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error payload of a Response.
type ErrorBody struct {
	Code    int            `json:"error_code"`
	Message string         `json:"error_message"`
	Detail  map[string]any `json:"error_detail,omitempty"`
}

// Response pairs an HTTP status with either a success payload or an error.
// It is immutable; With* methods return modified copies.
type Response struct {
	status  int
	payload any
	err     *ErrorBody
	headers map[string]string
}

// OK returns a 200 response carrying payload.
func OK(payload any) Response {
	return Response{status: http.StatusOK, payload: payload}
}

// Success returns a response with a custom status carrying payload.
func Success(status int, payload any) Response {
	return Response{status: status, payload: payload}
}

// Error returns an error response. code is the machine-readable error code,
// which need not equal status.
func Error(status, code int, message string, detail map[string]any) Response {
	if len(detail) == 0 {
		detail = nil
	}
	return Response{status: status, err: &ErrorBody{Code: code, Message: message, Detail: detail}}
}

// Status returns the HTTP status, 200 for a zero Response.
func (r Response) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Payload returns the success payload.
func (r Response) Payload() any { return r.payload }

// Err returns the error payload, or nil for a success.
func (r Response) Err() *ErrorBody {
	if r.err == nil {
		return nil
	}
	body := *r.err
	return &body
}

// IsError reports whether the response carries an error payload.
func (r Response) IsError() bool { return r.err != nil }

// WithHeader returns a copy of r that sets an extra response header.
func (r Response) WithHeader(key, value string) Response {
	headers := make(map[string]string, len(r.headers)+1)
	for k, v := range r.headers {
		headers[k] = v
	}
	headers[key] = value
	r.headers = headers
	return r
}

// Header returns an extra header set through WithHeader.
func (r Response) Header(key string) string {
	return r.headers[key]
}

// MarshalJSON renders {"response": payload} or {"response": {error...}}.
func (r Response) MarshalJSON() ([]byte, error) {
	var body any = r.payload
	if r.err != nil {
		body = r.err
	}
	return json.Marshal(struct {
		Response any `json:"response"`
	}{Response: body})
}

// Write sends the response with the JSON content type and an allow-all CORS
// header.
func (r Response) Write(w http.ResponseWriter) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	header := w.Header()
	for k, v := range r.headers {
		header.Set(k, v)
	}
	header.Set("Content-Type", "application/json")
	header.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(r.Status())
	_, err = w.Write(append(body, '\n'))
	return err
}
