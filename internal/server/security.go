package server

import "net/http"

const (
	defaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	defaultFrameOptions          = "DENY"
	defaultReferrerPolicy        = "no-referrer"
)

// SecurityConfig overrides the hardening headers set on every response.
// Empty fields keep the defaults for a JSON API.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
}

func (cfg SecurityConfig) headers() map[string]string {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return map[string]string{
		"Content-Security-Policy": pick(cfg.ContentSecurityPolicy, defaultContentSecurityPolicy),
		"X-Frame-Options":         pick(cfg.FrameOptions, defaultFrameOptions),
		"Referrer-Policy":         pick(cfg.ReferrerPolicy, defaultReferrerPolicy),
		"X-Content-Type-Options":  "nosniff",
		// Responses may carry access tokens.
		"Cache-Control": "no-store",
	}
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	set := cfg.headers()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range set {
			h.Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
