package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aistudio/internal/domain"
	"aistudio/internal/extract"
)

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]any
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{method: r.Method, path: r.URL.Path, header: r.Header.Clone()}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &req.body)
			}
		}
		captured = append(captured, req)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{APIToken: "r8_test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, &captured
}

func TestUpscalePayload(t *testing.T) {
	client, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"p_1","status":"starting","output":null,"urls":{"get":"https://api.replicate.com/v1/predictions/p_1"}}`)
	})
	p, err := client.Upscale(context.Background(), "https://store.example/img.png", UpscaleParams{Scale: 5, FaceEnhance: true})
	if err != nil {
		t.Fatalf("Upscale: %v", err)
	}
	if p.ID != "p_1" || p.State != StateRunning {
		t.Fatalf("unexpected prediction %+v", p)
	}
	req := (*captured)[0]
	if req.method != http.MethodPost || req.path != "/v1/predictions" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	if got := req.header.Get("Authorization"); got != "Bearer r8_test" {
		t.Fatalf("auth header = %q", got)
	}
	if req.body["version"] != UpscalerVersion {
		t.Fatalf("version = %v", req.body["version"])
	}
	input := req.body["input"].(map[string]any)
	if input["scale"].(float64) != 4 || input["face_enhance"] != true || input["image"] != "https://store.example/img.png" {
		t.Fatalf("unexpected input %v", input)
	}
}

func TestEraseRequestsSynchronousWait(t *testing.T) {
	client, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p_2","status":"succeeded","output":"https://replicate.delivery/out.png"}`)
	})
	p, err := client.Erase(context.Background(), "data:image/png;base64,AAAA", "data:image/png;base64,BBBB")
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if p.State != StateSucceeded {
		t.Fatalf("state = %s", p.State)
	}
	if got := (*captured)[0].header.Get("Prefer"); got != "wait=60" {
		t.Fatalf("Prefer = %q", got)
	}
	if _, err := client.Erase(context.Background(), "x", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty mask, got %v", err)
	}
}

func TestEnhanceAndRelightNormalization(t *testing.T) {
	client, captured := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p_3","status":"processing"}`)
	})
	if _, err := client.Enhance(context.Background(), "https://store.example/a.png", EnhanceParams{Version: "restoreformer", Scale: 9}); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	input := (*captured)[0].body["input"].(map[string]any)
	if input["version"] != "RestoreFormer" || input["scale"].(float64) != 2 || input["img"] != "https://store.example/a.png" {
		t.Fatalf("unexpected enhance input %v", input)
	}

	if _, err := client.Relight(context.Background(), "https://store.example/a.png", "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty prompt, got %v", err)
	}
	if _, err := client.Relight(context.Background(), "https://store.example/a.png", " golden hour "); err != nil {
		t.Fatalf("Relight: %v", err)
	}
	input = (*captured)[1].body["input"].(map[string]any)
	if input["prompt"] != "golden hour" || input["subject_image"] != "https://store.example/a.png" {
		t.Fatalf("unexpected relight input %v", input)
	}
	if !strings.Contains(input["negative_prompt"].(string), "deformed face") {
		t.Fatalf("missing negative prompt: %v", input)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		code int
		body string
		kind error
		want string
	}{
		{http.StatusServiceUnavailable, `upstream down`, domain.ErrUpstreamUnavailable, ""},
		{http.StatusBadGateway, ``, domain.ErrUpstreamUnavailable, ""},
		{http.StatusUnprocessableEntity, `{"detail":"Invalid image"}`, domain.ErrUpstreamRejected, "Invalid image"},
		{http.StatusUnauthorized, `{"detail":"Invalid token"}`, domain.ErrNotConfigured, ""},
	}
	for _, tt := range tests {
		client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
			_, _ = io.WriteString(w, tt.body)
		})
		_, err := client.Get(context.Background(), "p_x")
		if !errors.Is(err, tt.kind) {
			t.Fatalf("status %d: expected %v, got %v", tt.code, tt.kind, err)
		}
		if tt.want != "" {
			var tagged *domain.Error
			if !errors.As(err, &tagged) || tagged.Detail != tt.want {
				t.Fatalf("status %d: detail = %+v", tt.code, tagged)
			}
		}
	}
}

func TestCancelledCallerIsNotUpstreamFailure(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p_x","status":"processing"}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Get(ctx, "p_x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("cancellation classified as upstream failure: %v", err)
	}
}

func TestMissingTokenIsNotConfigured(t *testing.T) {
	client, _ := NewClient(Options{})
	if client.HasCredentials() {
		t.Fatal("expected no credentials")
	}
	if _, err := client.Get(context.Background(), "p"); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestParsePredictionFailureDetail(t *testing.T) {
	p, err := parsePrediction([]byte(`{"id":"p","status":"canceled","error":null,"logs":"step 1\nstep 2"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.State != StateFailed || p.FailureDetail() != "step 1\nstep 2" {
		t.Fatalf("unexpected %+v / %q", p, p.FailureDetail())
	}
	p, _ = parsePrediction([]byte(`{"id":"p","status":"failed","error":"bad input"}`))
	if p.FailureDetail() != "bad input" {
		t.Fatalf("FailureDetail = %q", p.FailureDetail())
	}
	p, _ = parsePrediction([]byte(`{"id":"p","status":"failed"}`))
	if p.FailureDetail() != "Unknown error" {
		t.Fatalf("FailureDetail = %q", p.FailureDetail())
	}
}

func TestParsePredictionStreamAndSample(t *testing.T) {
	p, err := parsePrediction([]byte(`{"id":"p","status":"succeeded","input":{"image":"data:..."},"logs":"x","output":null,"urls":{"stream":"https://stream.replicate.com/v1/files/f1"},"metrics":{"predict_time":1.5}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.StreamURL != "https://stream.replicate.com/v1/files/f1" {
		t.Fatalf("StreamURL = %q", p.StreamURL)
	}
	if p.Metrics.PredictTime == nil || *p.Metrics.PredictTime != 1.5 {
		t.Fatalf("metrics = %+v", p.Metrics)
	}
	sample := p.Sample()
	if strings.Contains(sample, "input") || strings.Contains(sample, "logs") {
		t.Fatalf("sample leaks input/logs: %s", sample)
	}
}

func TestNormalizeParams(t *testing.T) {
	if NormalizeUpscaleScale(0) != 4 || NormalizeUpscaleScale(2) != 2 || NormalizeUpscaleScale(7) != 8 || NormalizeUpscaleScale(100) != 8 {
		t.Fatal("unexpected upscale normalization")
	}
	if NormalizeEnhanceScale(0) != 2 || NormalizeEnhanceScale(1) != 1 {
		t.Fatal("unexpected enhance scale normalization")
	}
	if NormalizeEnhanceVersion("") != "v1.4" || NormalizeEnhanceVersion("V1.3") != "v1.3" {
		t.Fatal("unexpected enhance version normalization")
	}
}

type scriptedGetter struct {
	snapshots []*Prediction
	calls     int
}

func (s *scriptedGetter) Get(ctx context.Context, id string) (*Prediction, error) {
	p := s.snapshots[s.calls]
	s.calls++
	return p, nil
}

func TestOutputResolverRetriesSequentially(t *testing.T) {
	getter := &scriptedGetter{snapshots: []*Prediction{
		{ID: "p", State: StateSucceeded},
		{ID: "p", State: StateSucceeded, Output: extract.String("https://replicate.delivery/late.png")},
	}}
	var slept []time.Duration
	resolver := NewOutputResolver(getter, nil, nil, func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	url, latest, err := resolver.Resolve(context.Background(), &Prediction{ID: "p", State: StateSucceeded})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "https://replicate.delivery/late.png" || latest != getter.snapshots[1] {
		t.Fatalf("unexpected result %q %+v", url, latest)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", slept)
	}
}

func TestOutputResolverGivesUp(t *testing.T) {
	empty := &Prediction{ID: "p", State: StateSucceeded}
	getter := &scriptedGetter{snapshots: []*Prediction{empty, empty, empty}}
	resolver := NewOutputResolver(getter, nil, nil, func(context.Context, time.Duration) error { return nil })
	url, _, err := resolver.Resolve(context.Background(), empty)
	if err != nil || url != "" {
		t.Fatalf("expected empty url, got %q %v", url, err)
	}
	if getter.calls != 3 {
		t.Fatalf("expected 3 re-polls, got %d", getter.calls)
	}
}
