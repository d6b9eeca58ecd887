package photoroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey error = &domain.Error{Kind: domain.ErrNotConfigured, Detail: "photoroom: api key is required"}

const (
	defaultBaseURL    = "https://sdk.photoroom.com"
	defaultTimeout    = 60 * time.Second
	maxResultBytes    = 50 << 20
	defaultSourceName = "image.jpg"
)

// Options configures the segmentation client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Timeout    time.Duration
}

// Client calls the Photoroom segment endpoint, which answers with the cut-out
// image bytes in the same response.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	timeout    time.Duration
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		timeout:    timeout,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// Segment uploads image and returns the background-free result.
func (c *Client) Segment(ctx context.Context, image []byte) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if len(image) == 0 {
		return nil, domain.InvalidInput(domain.ToolBackgroundRemoval, "Could not fetch image from URL.")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image_file", defaultSourceName)
	if err != nil {
		return nil, fmt.Errorf("photoroom: build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("photoroom: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("photoroom: build form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/segment", &body)
	if err != nil {
		return nil, fmt.Errorf("photoroom: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)

	c.logger.Debug().Int("size_bytes", len(image)).Msg("photoroom: segment request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.ErrUpstreamUnavailable, domain.ToolBackgroundRemoval, fmt.Sprintf("photoroom: %v", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, domain.NewError(domain.ErrUpstreamUnavailable, domain.ToolBackgroundRemoval, fmt.Sprintf("photoroom: read response: %v", err))
	}
	c.logger.Debug().Int("status_code", resp.StatusCode).Int("response_body_size", len(payload)).Msg("photoroom: segment response")

	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, payload)
	}
	if len(payload) == 0 {
		return nil, domain.NewError(domain.ErrNoResult, domain.ToolBackgroundRemoval, "photoroom returned an empty body")
	}
	return payload, nil
}

func classifyStatus(code int, body []byte) error {
	if code >= 500 || code == http.StatusTooManyRequests {
		return domain.NewError(domain.ErrUpstreamUnavailable, domain.ToolBackgroundRemoval, fmt.Sprintf("status %d", code))
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return domain.NewError(domain.ErrNotConfigured, domain.ToolBackgroundRemoval, fmt.Sprintf("status %d", code))
	}
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		switch {
		case er.Message != "":
			msg = er.Message
		case er.Error != "":
			msg = er.Error
		case er.Detail != "":
			msg = er.Detail
		}
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", code)
	}
	return domain.NewError(domain.ErrUpstreamRejected, domain.ToolBackgroundRemoval, "Photoroom: "+msg)
}
