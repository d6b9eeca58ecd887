package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken error = &domain.Error{Kind: domain.ErrNotConfigured, Detail: "replicate: api token is required"}

const (
	defaultBaseURL       = "https://api.replicate.com/v1"
	defaultCreateTimeout = 30 * time.Second
	defaultPollTimeout   = 15 * time.Second
	maxResponseBytes     = 8 << 20
)

// Options configures the predictions API client.
type Options struct {
	APIToken       string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	CreateTimeout  time.Duration
	PollTimeout    time.Duration
	PricePerSecond float64
}

// Client talks to the Replicate predictions API.
type Client struct {
	token          string
	baseURL        string
	httpClient     *http.Client
	logger         *infra.Logger
	createTimeout  time.Duration
	pollTimeout    time.Duration
	pricePerSecond float64
}

// CreateRequest describes one prediction submission.
type CreateRequest struct {
	Version string
	Input   map[string]any
	// Wait asks the API to hold the request open until the prediction
	// finishes or the wait elapses.
	Wait    time.Duration
	Timeout time.Duration
}

type createBody struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Title  string          `json:"title"`
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
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	c := &Client{
		token:          strings.TrimSpace(opts.APIToken),
		baseURL:        baseURL,
		httpClient:     httpClient,
		logger:         logger,
		createTimeout:  opts.CreateTimeout,
		pollTimeout:    opts.PollTimeout,
		pricePerSecond: opts.PricePerSecond,
	}
	if c.createTimeout <= 0 {
		c.createTimeout = defaultCreateTimeout
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = defaultPollTimeout
	}
	return c, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.token != ""
}

// Token returns the bearer token, used for authenticated result downloads.
func (c *Client) Token() string {
	if c == nil {
		return ""
	}
	return c.token
}

// Create submits a prediction.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	if strings.TrimSpace(req.Version) == "" {
		return nil, errors.New("replicate: model version is required")
	}
	body, err := json.Marshal(createBody{Version: req.Version, Input: req.Input})
	if err != nil {
		return nil, fmt.Errorf("replicate: marshal request: %w", err)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.createTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Wait > 0 {
		httpReq.Header.Set("Prefer", "wait="+strconv.Itoa(int(req.Wait/time.Second)))
	}

	c.logger.Debug().
		Str("version", req.Version).
		Interface("input", redactInput(req.Input)).
		Msg("replicate: create prediction")

	p, err := c.do(httpReq, "create")
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, domain.NewError(domain.ErrUpstreamRejected, "", "provider did not return a job id")
	}
	return p, nil
}

// Get fetches the current state of a prediction.
func (c *Client) Get(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	return c.do(httpReq, "get")
}

func (c *Client) do(req *http.Request, op string) (*Prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller cancellation is not an upstream failure.
		if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, fmt.Errorf("replicate %s: %w", op, ctxErr)
		}
		return nil, domain.NewError(domain.ErrUpstreamUnavailable, "", fmt.Sprintf("replicate %s: %v", op, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewError(domain.ErrUpstreamUnavailable, "", fmt.Sprintf("replicate %s: read response: %v", op, err))
	}
	if resp.StatusCode >= 300 {
		statusErr := classifyStatus(resp.StatusCode, payload)
		c.logger.Warn().Int("status_code", resp.StatusCode).Str("op", op).Err(statusErr).Msg("replicate: request failed")
		return nil, statusErr
	}
	p, err := parsePrediction(payload)
	if err != nil {
		return nil, fmt.Errorf("replicate: decode %s response: %w", op, err)
	}
	c.logger.Debug().Str("job_id", p.ID).Str("status", p.Status).Msg("replicate: prediction state")
	return p, nil
}

// classifyStatus separates transient upstream failures from deterministic
// rejections.
func classifyStatus(code int, body []byte) error {
	detail := errorDetail(body)
	switch {
	case code >= 500:
		return domain.NewError(domain.ErrUpstreamUnavailable, "", fmt.Sprintf("status %d", code))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.NewError(domain.ErrNotConfigured, "", fmt.Sprintf("status %d: %s", code, detail))
	case code == http.StatusTooManyRequests:
		return domain.NewError(domain.ErrUpstreamUnavailable, "", "rate limited")
	default:
		if detail == "" {
			detail = fmt.Sprintf("request failed with status %d", code)
		}
		return domain.NewError(domain.ErrUpstreamRejected, "", detail)
	}
}

func errorDetail(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		var s string
		if len(er.Detail) > 0 && json.Unmarshal(er.Detail, &s) == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		if len(er.Detail) > 0 && string(er.Detail) != "null" {
			return truncate(string(er.Detail), 300)
		}
		if er.Title != "" {
			return er.Title
		}
	}
	return truncate(strings.TrimSpace(string(body)), 300)
}

// LogUsage records prediction metrics and, when a price is configured, an
// estimated cost. The provider reports time, not money.
func (c *Client) LogUsage(p *Prediction) {
	if p == nil {
		return
	}
	evt := c.logger.Info().Str("job_id", p.ID)
	if p.Metrics.PredictTime != nil {
		evt = evt.Float64("predict_time_seconds", *p.Metrics.PredictTime)
		if c.pricePerSecond > 0 {
			evt = evt.Float64("estimated_cost_usd", *p.Metrics.PredictTime*c.pricePerSecond).
				Float64("price_per_second", c.pricePerSecond)
		}
	}
	if p.Metrics.TotalTime != nil {
		evt = evt.Float64("total_time_seconds", *p.Metrics.TotalTime)
	}
	evt.Msg("replicate: usage")
}

func redactInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "data:") {
			out[k] = "[data URI]"
			continue
		}
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
