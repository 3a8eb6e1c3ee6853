package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResponseJSONShape(t *testing.T) {
	cases := []struct {
		name string
		resp Response
		want string
	}{
		{name: "success", resp: OK(map[string]int{"id": 1}), want: `{"response":{"id":1}}`},
		{name: "null payload", resp: OK(nil), want: `{"response":null}`},
		{
			name: "error without detail",
			resp: Error(http.StatusBadRequest, 400, "Parameters error: a a required parameter.", map[string]any{}),
			want: `{"response":{"error_code":400,"error_message":"Parameters error: a a required parameter."}}`,
		},
		{
			name: "error with detail",
			resp: Error(http.StatusNotFound, 500, "Error connecting database, try later.", map[string]any{"db": map[string]any{"error_message": "x"}}),
			want: `{"response":{"error_code":500,"error_message":"Error connecting database, try later.","error_detail":{"db":{"error_message":"x"}}}}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := tc.resp.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON returned error: %v", err)
			}
			if string(body) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, body)
			}
		})
	}
}

func TestResponseWriteSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	resp := Error(http.StatusTooManyRequests, 429, "slow down", nil).WithHeader("Retry-After", "3")
	if err := resp.Write(rec); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected CORS header %q", got)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("unexpected Retry-After %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"error_message":"slow down"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestResponseIsImmutable(t *testing.T) {
	base := OK(true)
	withHeader := base.WithHeader("X-A", "1")
	if base.Header("X-A") != "" {
		t.Fatal("WithHeader mutated the original response")
	}
	if withHeader.Header("X-A") != "1" {
		t.Fatal("expected header on the copy")
	}
	errResp := Error(500, 500, "a", nil)
	errResp.Err().Message = "changed"
	if errResp.Err().Message != "a" {
		t.Fatal("Err exposed internal state")
	}
	if (Response{}).Status() != http.StatusOK {
		t.Fatal("zero response should report 200")
	}
}
