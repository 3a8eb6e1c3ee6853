package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"apikit/internal/api"
)

// maxBodyBytes bounds the request body read for parameters.
const maxBodyBytes = 1 << 20

// errBodyTooLarge is returned when the body exceeds maxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

// extractParams merges query, form and JSON body parameters. Body values
// override query values of the same name.
func extractParams(r *http.Request) (api.Params, error) {
	values := make(map[string]any)
	for key, vs := range r.URL.Query() {
		if len(vs) > 0 {
			values[key] = vs[0]
		}
	}

	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return api.NewParams(values), nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(body) > maxBodyBytes {
			return nil, errBodyTooLarge
		}
		if len(bytes.TrimSpace(body)) > 0 {
			decoder := json.NewDecoder(bytes.NewReader(body))
			decoder.UseNumber()
			var payload map[string]any
			if err := decoder.Decode(&payload); err != nil {
				return nil, fmt.Errorf("decode json body: %w", err)
			}
			for key, v := range payload {
				values[key] = v
			}
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxBodyBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, errBodyTooLarge
			}
			return nil, fmt.Errorf("parse form: %w", err)
		}
		for key, vs := range r.PostForm {
			if len(vs) > 0 {
				values[key] = vs[0]
			}
		}
	}
	return api.NewParams(values), nil
}

// extractClientIP returns the first X-Forwarded-For entry, then X-Real-IP,
// then the host of the remote address, or "unknown".
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	if ip := clientIP(r.RemoteAddr); ip != "" {
		return ip
	}
	return "unknown"
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
