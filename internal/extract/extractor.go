package extract

import (
	"net/url"
	"strings"
)

// DefaultMaxDepth bounds recursion through nested provider payloads.
const DefaultMaxDepth = 10

// Options configures which hosts count as provider control surfaces.
type Options struct {
	// RejectHosts are exact hostnames that never qualify as results.
	RejectHosts []string
	// RejectHostPrefixes reject any hostname starting with one of them.
	// Defaults to "api." and "stream.".
	RejectHostPrefixes []string
	// SkipKeys are ignored by Search. Defaults to input, logs and urls.
	SkipKeys []string
	MaxDepth int
}

// Extractor picks the best result URL from a provider response.
type Extractor struct {
	rejectHosts    map[string]struct{}
	rejectPrefixes []string
	skipKeys       []string
	maxDepth       int
}

// New builds an Extractor with defaults applied.
func New(opts Options) *Extractor {
	prefixes := opts.RejectHostPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{"api.", "stream."}
	}
	skip := opts.SkipKeys
	if len(skip) == 0 {
		skip = []string{"input", "logs", "urls"}
	}
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	hosts := make(map[string]struct{}, len(opts.RejectHosts))
	for _, h := range opts.RejectHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = struct{}{}
		}
	}
	lower := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		lower = append(lower, strings.ToLower(p))
	}
	return &Extractor{rejectHosts: hosts, rejectPrefixes: lower, skipKeys: skip, maxDepth: depth}
}

// Extract returns the first acceptable URL in a prediction output.
func (e *Extractor) Extract(output Value) (string, bool) {
	return e.find(output, 0, nil)
}

// Search walks a whole provider response, skipping echoed input, logs and
// control links, for responses that report a result outside the output field.
func (e *Extractor) Search(response Value) (string, bool) {
	return e.find(response, 0, e.skipKeys)
}

// Accept reports whether raw is a URL on a delivery surface.
func (e *Extractor) Accept(raw string) bool {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if _, blocked := e.rejectHosts[host]; blocked {
		return false
	}
	for _, p := range e.rejectPrefixes {
		if strings.HasPrefix(host, p) {
			return false
		}
	}
	return true
}

func (e *Extractor) find(v Value, depth int, skip []string) (string, bool) {
	if depth > e.maxDepth {
		return "", false
	}
	switch v.kind {
	case KindString:
		if e.Accept(v.str) {
			return strings.TrimSpace(v.str), true
		}
	case KindList:
		for _, item := range v.items {
			if u, ok := e.find(item, depth+1, skip); ok {
				return u, true
			}
		}
	case KindObject:
		if direct, ok := v.Get("url"); ok {
			if u, ok := e.find(direct, depth+1, skip); ok {
				return u, true
			}
		}
		for _, f := range v.fields {
			if f.Key == "url" || containsKey(skip, f.Key) {
				continue
			}
			if u, ok := e.find(f.Value, depth+1, skip); ok {
				return u, true
			}
		}
	}
	return "", false
}
