package storage

import (
	"context"
	"net/url"
	"strings"
)

type baseURLKey struct{}

// WithBaseURL records the scheme and host the current request arrived on, so
// stored objects can be addressed through whatever tunnel or proxy the caller
// used.
func WithBaseURL(ctx context.Context, base string) context.Context {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ctx
	}
	return context.WithValue(ctx, baseURLKey{}, base)
}

// BaseURLFromContext returns the request base URL, if any.
func BaseURLFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(baseURLKey{}).(string); ok {
		return v
	}
	return ""
}

// Locator maps storage keys to public URLs and recognizes references that
// point back at this application's storage.
type Locator struct {
	appURL     string
	appHost    string
	publicPath string
}

// NewLocator builds a Locator for objects served under publicPath (for
// example "/storage"). appURL is the configured fallback base URL.
func NewLocator(appURL, publicPath string) *Locator {
	appURL = strings.TrimRight(strings.TrimSpace(appURL), "/")
	publicPath = "/" + strings.Trim(strings.TrimSpace(publicPath), "/")
	if publicPath == "/" {
		publicPath = "/storage"
	}
	l := &Locator{appURL: appURL, publicPath: publicPath}
	if u, err := url.Parse(appURL); err == nil {
		l.appHost = strings.ToLower(u.Host)
	}
	return l
}

// PublicPath returns the URL path prefix objects are served under.
func (l *Locator) PublicPath() string { return l.publicPath }

// URL returns the public URL for key, rooted at the request base URL when one
// is present in ctx.
func (l *Locator) URL(ctx context.Context, key string) string {
	base := BaseURLFromContext(ctx)
	if base == "" {
		base = l.appURL
	}
	return base + l.publicPath + "/" + strings.TrimLeft(key, "/")
}

// Key returns the storage key a reference points at when the reference is
// self-hosted: a bare public path, or an absolute URL whose host is the
// configured app host or the current request host.
func (l *Locator) Key(ctx context.Context, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.Host != "" {
		host := strings.ToLower(u.Host)
		if host != l.appHost && host != l.requestHost(ctx) {
			return "", false
		}
	} else if u.Scheme != "" {
		return "", false
	}
	prefix := l.publicPath + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

// Normalize rewrites a self-hosted reference (see Key) onto the current
// request host. References to other hosts are returned untouched.
func (l *Locator) Normalize(ctx context.Context, ref string) string {
	key, ok := l.Key(ctx, ref)
	if !ok {
		return ref
	}
	return l.URL(ctx, key)
}

// NormalizeStored rewrites a reference this application wrote itself, such
// as a rehosted result, onto the current request host whatever host it was
// recorded under. That covers results stored while the app sat behind an
// earlier tunnel hostname. Only pass references known to be ours.
func (l *Locator) NormalizeStored(ctx context.Context, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || ref == "" {
		return ref
	}
	prefix := l.publicPath + "/"
	if !strings.HasPrefix(u.Path, prefix) || len(u.Path) == len(prefix) {
		return ref
	}
	return l.URL(ctx, strings.TrimPrefix(u.Path, prefix))
}

func (l *Locator) requestHost(ctx context.Context) string {
	base := BaseURLFromContext(ctx)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
