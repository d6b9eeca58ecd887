// Package materialize rehosts provider result images on the application's own
// storage so that links handed to merchants stay valid.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aistudio/internal/imaging"
	"aistudio/internal/infra"
	"aistudio/internal/storage"
)

var (
	// ErrFetchFailed means no attempt produced a usable image body.
	ErrFetchFailed = errors.New("materialize: could not fetch result")
	// ErrNotStreamURL is returned for stream descriptors this package cannot
	// resolve.
	ErrNotStreamURL = errors.New("materialize: unsupported stream url")
)

const (
	defaultDownloadTimeout = 60 * time.Second
	defaultStreamTimeout   = 30 * time.Second
	defaultMaxBytes        = 50 << 20
	minStreamBodyBytes     = 100
)

// Options configures a Materializer.
type Options struct {
	Store   *storage.FileStore
	Locator *storage.Locator

	HTTPClient *http.Client
	Logger     *infra.Logger

	DownloadTimeout time.Duration
	StreamTimeout   time.Duration
	// FilesBaseURL hosts the /v1/files/{id}/download fallback for stream
	// descriptors.
	FilesBaseURL string
	// DeliveryHostHints mark URLs that may require the provider token.
	DeliveryHostHints []string
	// Dir is the storage directory results are written under.
	Dir      string
	MaxBytes int64
}

// Materializer downloads remote results and writes them to storage.
type Materializer struct {
	store           *storage.FileStore
	locator         *storage.Locator
	httpClient      *http.Client
	logger          *infra.Logger
	downloadTimeout time.Duration
	streamTimeout   time.Duration
	filesBaseURL    string
	deliveryHints   []string
	dir             string
	maxBytes        int64
}

// New validates opts and applies defaults.
func New(opts Options) (*Materializer, error) {
	if opts.Store == nil {
		return nil, errors.New("materialize: store is required")
	}
	if opts.Locator == nil {
		return nil, errors.New("materialize: locator is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	m := &Materializer{
		store:           opts.Store,
		locator:         opts.Locator,
		httpClient:      httpClient,
		logger:          logger,
		downloadTimeout: opts.DownloadTimeout,
		streamTimeout:   opts.StreamTimeout,
		filesBaseURL:    strings.TrimRight(opts.FilesBaseURL, "/"),
		deliveryHints:   opts.DeliveryHostHints,
		dir:             strings.Trim(opts.Dir, "/"),
		maxBytes:        opts.MaxBytes,
	}
	if m.downloadTimeout <= 0 {
		m.downloadTimeout = defaultDownloadTimeout
	}
	if m.streamTimeout <= 0 {
		m.streamTimeout = defaultStreamTimeout
	}
	if m.filesBaseURL == "" {
		m.filesBaseURL = "https://api.replicate.com"
	}
	if len(m.deliveryHints) == 0 {
		m.deliveryHints = []string{"replicate"}
	}
	if m.dir == "" {
		m.dir = "ai-studio"
	}
	if m.maxBytes <= 0 {
		m.maxBytes = defaultMaxBytes
	}
	return m, nil
}

// Materialize fetches remoteURL without credentials, retrying once with the
// bearer token when the URL belongs to a provider delivery domain, and stores
// the body. The returned URL is rooted at the request base URL in ctx.
func (m *Materializer) Materialize(ctx context.Context, remoteURL, token, prefix string) (string, error) {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return "", fmt.Errorf("%w: empty url", ErrFetchFailed)
	}
	body, contentType, err := m.fetch(ctx, remoteURL, "", m.downloadTimeout)
	if err != nil && token != "" && m.isDelivery(remoteURL) {
		m.logger.Debug().Err(err).Str("url", remoteURL).Msg("materialize: retrying with provider token")
		body, contentType, err = m.fetch(ctx, remoteURL, token, m.downloadTimeout)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("url", remoteURL).Msg("materialize: download failed")
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return m.write(ctx, body, contentType, prefix)
}

// MaterializeStream resolves a streaming-file descriptor by trying the stream
// URL and then the files download endpoint, both with the bearer token.
func (m *Materializer) MaterializeStream(ctx context.Context, streamURL, token, prefix string) (string, error) {
	fileID, ok := StreamFileID(streamURL)
	if !ok {
		return "", ErrNotStreamURL
	}
	candidates := []string{
		strings.TrimSpace(streamURL),
		m.filesBaseURL + "/v1/files/" + url.PathEscape(fileID) + "/download",
	}
	var lastErr error
	for _, candidate := range candidates {
		body, contentType, err := m.fetch(ctx, candidate, token, m.streamTimeout)
		if err != nil {
			lastErr = err
			m.logger.Warn().Err(err).Str("url", candidate).Msg("materialize: stream fetch failed")
			continue
		}
		if len(body) < minStreamBodyBytes {
			lastErr = fmt.Errorf("body too small (%d bytes)", len(body))
			continue
		}
		if !imaging.IsPNG(body) && !strings.HasPrefix(contentType, "image/") {
			lastErr = fmt.Errorf("unexpected content type %q", contentType)
			continue
		}
		return m.write(ctx, body, contentType, prefix)
	}
	return "", fmt.Errorf("%w: %v", ErrFetchFailed, lastErr)
}

// Store writes bytes a provider returned inline.
func (m *Materializer) Store(ctx context.Context, data []byte, prefix string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrFetchFailed)
	}
	return m.write(ctx, data, "", prefix)
}

// StreamFileID extracts the file id from a stream.<provider>/v1/files/<id>
// descriptor.
func StreamFileID(streamURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(streamURL))
	if err != nil || !strings.HasPrefix(strings.ToLower(u.Hostname()), "stream.") {
		return "", false
	}
	const marker = "/v1/files/"
	if !strings.HasPrefix(u.Path, marker) {
		return "", false
	}
	id := strings.Trim(strings.TrimPrefix(u.Path, marker), "/ \t\r\n")
	if id == "" {
		return "", false
	}
	return id, true
}

func (m *Materializer) isDelivery(raw string) bool {
	lower := strings.ToLower(raw)
	for _, hint := range m.deliveryHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

func (m *Materializer) fetch(ctx context.Context, target, token string, timeout time.Duration) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > m.maxBytes {
		return nil, "", fmt.Errorf("body exceeds %d bytes", m.maxBytes)
	}
	if len(body) == 0 {
		return nil, "", errors.New("empty body")
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (m *Materializer) write(ctx context.Context, data []byte, contentType, prefix string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "result"
	}
	name := prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "") + extensionFor(contentType, data)
	key, err := m.store.Write(ctx, m.dir+"/"+name, data)
	if err != nil {
		return "", fmt.Errorf("materialize: store result: %w", err)
	}
	public := m.locator.URL(ctx, key)
	m.logger.Debug().Str("key", key).Int("size", len(data)).Msg("materialize: stored result")
	return public, nil
}

func extensionFor(contentType string, data []byte) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
