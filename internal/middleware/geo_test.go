package middleware

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"aistudio/internal/storage"
)

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		resolver CountryLookup
		want     string
	}{
		{
			name: "cdn header precedence",
			setup: func(r *http.Request) {
				r.Header.Set("CF-IPCountry", "id")
				r.Header.Set("X-Country-Code", "us")
			},
			want: "ID",
		},
		{
			name:  "unknown cdn country skipped",
			setup: func(r *http.Request) { r.Header.Set("CF-IPCountry", "XX") },
			want:  "",
		},
		{
			name:  "accept-language region",
			setup: func(r *http.Request) { r.Header.Set("Accept-Language", "en-GB,en;q=0.9") },
			want:  "GB",
		},
		{
			name: "resolver fallback",
			resolver: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					t.Fatalf("unexpected ip: %s", ip)
				}
				return "my", nil
			},
			want: "MY",
		},
		{
			name: "resolver error returns empty",
			resolver: func(ip string) (string, error) {
				return "", errors.New("boom")
			},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			if tc.setup != nil {
				tc.setup(req)
			}
			if got := ResolveCountry(req, tc.resolver); got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCountryMiddleware(t *testing.T) {
	var got string
	h := Country(func(string) (string, error) { return "sg", nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CountryFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "SG" {
		t.Fatalf("CountryFromContext() = %q, want SG", got)
	}
}

func TestRequestBaseURL(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{name: "plain host", want: "http://app.local"},
		{
			name:  "tls",
			setup: func(r *http.Request) { r.TLS = &tls.ConnectionState{} },
			want:  "https://app.local",
		},
		{
			name: "forwarded by tunnel",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-Proto", "https, http")
				r.Header.Set("X-Forwarded-Host", "Shop-Tunnel.example.com")
			},
			want: "https://shop-tunnel.example.com",
		},
		{
			name:  "bogus proto ignored",
			setup: func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "gopher") },
			want:  "http://app.local",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://app.local/tools/upscale", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			if got := RequestBaseURL(req); got != tc.want {
				t.Fatalf("RequestBaseURL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBaseURLMiddleware(t *testing.T) {
	var got string
	h := BaseURL(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = storage.BaseURLFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "http://app.local/", nil)
	req.Header.Set("X-Forwarded-Host", "t.example")
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "https://t.example" {
		t.Fatalf("base url = %q", got)
	}
}
