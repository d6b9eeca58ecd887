package middleware

import (
	"net/http"
	"strings"

	"aistudio/internal/storage"
)

// BaseURL records the scheme and host the request arrived on, so stored
// results are addressed through whatever tunnel or domain the merchant used.
func BaseURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(storage.WithBaseURL(r.Context(), RequestBaseURL(r))))
	})
}

// RequestBaseURL returns scheme://host for r, honoring X-Forwarded-Proto and
// X-Forwarded-Host set by the tunnel or load balancer.
func RequestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(r, "X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	host := r.Host
	if fwd := firstHeaderValue(r, "X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}

func firstHeaderValue(r *http.Request, key string) string {
	v := r.Header.Get(key)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
