package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aistudio/internal/adapter/memstore"
	"aistudio/internal/domain"
	"aistudio/internal/generation"
	"aistudio/internal/middleware"
)

type fakeService struct {
	start     *generation.StartResult
	status    *generation.StatusResult
	recent    []domain.GenerationJob
	err       error
	gotTool   domain.ToolKind
	gotTenant string
	gotJob    string
	gotLimit  int
	payload   generation.Payload
	linkedID  int64
	linkedTo  string
}

func (f *fakeService) StartGeneration(ctx context.Context, tool domain.ToolKind, p generation.Payload, tenantID string) (*generation.StartResult, error) {
	f.gotTool, f.payload, f.gotTenant = tool, p, tenantID
	return f.start, f.err
}

func (f *fakeService) CheckStatusFor(ctx context.Context, tenantID, providerJobID string, tool domain.ToolKind) (*generation.StatusResult, error) {
	f.gotTool, f.gotTenant, f.gotJob = tool, tenantID, providerJobID
	return f.status, f.err
}

func (f *fakeService) RecentGenerations(ctx context.Context, tenantID string, limit int) ([]domain.GenerationJob, error) {
	f.gotTenant, f.gotLimit = tenantID, limit
	return f.recent, f.err
}

func (f *fakeService) LinkCatalogEntry(ctx context.Context, tenantID string, generationID int64, entryID string) error {
	f.gotTenant, f.linkedID, f.linkedTo = tenantID, generationID, entryID
	return f.err
}

func shopRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.ContextWithShop(req.Context(), "demo.myshopify.com"))
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func TestStartToolProcessing(t *testing.T) {
	svc := &fakeService{start: &generation.StartResult{Status: generation.StatusProcessing, JobID: "p_1", GenerationID: 7}}
	app := NewApp(svc, nil, nil)

	rr := httptest.NewRecorder()
	app.StartTool(domain.ToolUpscale)(rr, shopRequest(http.MethodPost, "/tools/upscale", `{"image_url":"https://store.example/img.png","scale":4,"face_enhance":false}`))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "p_1", body["job_id"])
	assert.Nil(t, body["result_url"])
	assert.EqualValues(t, 7, body["generation_id"])
	assert.Equal(t, domain.ToolUpscale, svc.gotTool)
	assert.Equal(t, "demo.myshopify.com", svc.gotTenant)
	assert.Equal(t, 4, svc.payload.Scale)
	assert.Equal(t, "https://store.example/img.png", svc.payload.ImageURL)
}

func TestStartToolAcceptsImageField(t *testing.T) {
	svc := &fakeService{start: &generation.StartResult{Status: generation.StatusCompleted, ResultURL: "https://t.example/storage/ai-studio/x.png", GenerationID: 1}}
	app := NewApp(svc, nil, nil)

	rr := httptest.NewRecorder()
	app.StartTool(domain.ToolBackgroundRemoval)(rr, shopRequest(http.MethodPost, "/remove-background", `{"image":"https://store.example/img.png"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Nil(t, body["job_id"])
	assert.Equal(t, "https://t.example/storage/ai-studio/x.png", body["result_url"])
	assert.Equal(t, "https://store.example/img.png", svc.payload.ImageURL)
}

func TestStartToolErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"not configured", domain.NotConfigured(domain.ToolUpscale), http.StatusServiceUnavailable, "Upscale is not configured."},
		{"invalid input", domain.InvalidInput(domain.ToolMagicEraser, "Missing mask. Please draw the area to erase and try again."), http.StatusUnprocessableEntity, "Missing mask. Please draw the area to erase and try again."},
		{"unavailable", domain.NewError(domain.ErrUpstreamUnavailable, domain.ToolEnhance, "status 503"), http.StatusServiceUnavailable, "Enhance service is temporarily unavailable. Please try again in a moment."},
		{"rejected", domain.NewError(domain.ErrUpstreamRejected, domain.ToolUpscale, "image too small"), http.StatusUnprocessableEntity, "image too small"},
		{"not saved", domain.NewError(domain.ErrResultNotSaved, domain.ToolUpscale, "status 403"), http.StatusBadGateway, "Result image could not be saved. Please try again."},
		{"unknown tool", domain.ErrUnknownTool, http.StatusNotFound, "Something went wrong. Please try again."},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "Something went wrong. Please try again."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := NewApp(&fakeService{err: tc.err}, nil, nil)
			rr := httptest.NewRecorder()
			app.StartTool(domain.ToolUpscale)(rr, shopRequest(http.MethodPost, "/tools/upscale", `{"image_url":"https://x"}`))
			assert.Equal(t, tc.code, rr.Code)
			body := decode(t, rr)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tc.message, body["message"])
		})
	}
}

func TestStartToolRejectsBadRequests(t *testing.T) {
	app := NewApp(&fakeService{}, nil, nil)

	rr := httptest.NewRecorder()
	app.StartTool(domain.ToolUpscale)(rr, httptest.NewRequest(http.MethodPost, "/tools/upscale", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	app.StartTool(domain.ToolUpscale)(rr, shopRequest(http.MethodPost, "/tools/upscale", `{not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func withJobID(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestToolStatus(t *testing.T) {
	id := int64(3)
	t.Run("completed", func(t *testing.T) {
		svc := &fakeService{status: &generation.StatusResult{Status: generation.StatusCompleted, JobID: "p_1", ResultURL: "https://t.example/storage/ai-studio/u.png", GenerationID: &id}}
		rr := httptest.NewRecorder()
		NewApp(svc, nil, nil).ToolStatus(domain.ToolUpscale)(rr, withJobID(shopRequest(http.MethodGet, "/tools/upscale-job/p_1", ""), "jobID", "p_1"))
		require.Equal(t, http.StatusOK, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, "completed", body["status"])
		assert.EqualValues(t, 3, body["generation_id"])
		assert.Nil(t, body["message"])
		assert.Equal(t, "p_1", svc.gotJob)
	})
	t.Run("error status", func(t *testing.T) {
		svc := &fakeService{status: &generation.StatusResult{Status: generation.StatusError, JobID: "unknown_id", Message: "bad input"}}
		rr := httptest.NewRecorder()
		NewApp(svc, nil, nil).ToolStatus(domain.ToolEnhance)(rr, withJobID(shopRequest(http.MethodGet, "/tools/enhance-job/unknown_id", ""), "jobID", "unknown_id"))
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, "bad input", body["message"])
		assert.Nil(t, body["generation_id"])
	})
	t.Run("not found", func(t *testing.T) {
		svc := &fakeService{err: domain.NewError(domain.ErrNotFound, domain.ToolUpscale, "")}
		rr := httptest.NewRecorder()
		NewApp(svc, nil, nil).ToolStatus(domain.ToolUpscale)(rr, withJobID(shopRequest(http.MethodGet, "/tools/upscale-job/x", ""), "jobID", "x"))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestRecentGenerations(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{recent: []domain.GenerationJob{{
		ID:                9,
		Tool:              domain.ToolUpscale,
		SourceImageRef:    "https://cdn.shopify.com/x.png",
		ResultImageRef:    "https://t.example/storage/ai-studio/u.png",
		State:             domain.JobStateCompleted,
		ProcessingSeconds: 4.5,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}}}
	rr := httptest.NewRecorder()
	NewApp(svc, nil, nil).RecentGenerations(rr, shopRequest(http.MethodGet, "/recent-generations?limit=10", ""))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 10, svc.gotLimit)
	var body struct {
		Generations []generationItem `json:"generations"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body.Generations, 1)
	assert.Equal(t, "upscale", body.Generations[0].Tool)
	assert.Nil(t, body.Generations[0].LinkedProductID)
	assert.Equal(t, "https://t.example/storage/ai-studio/u.png", body.Generations[0].ResultImageURL)
}

func TestLinkGeneration(t *testing.T) {
	svc := &fakeService{}
	rr := httptest.NewRecorder()
	req := withJobID(shopRequest(http.MethodPost, "/generations/9/link", `{"product_id":"gid://shopify/Product/123"}`), "id", "9")
	NewApp(svc, nil, nil).LinkGeneration(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(9), svc.linkedID)
	assert.Equal(t, "gid://shopify/Product/123", svc.linkedTo)

	rr = httptest.NewRecorder()
	NewApp(svc, nil, nil).LinkGeneration(rr, withJobID(shopRequest(http.MethodPost, "/generations/abc/link", `{}`), "id", "abc"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc.err = domain.InvalidInput("", "Invalid product id.")
	rr = httptest.NewRecorder()
	NewApp(svc, nil, nil).LinkGeneration(rr, withJobID(shopRequest(http.MethodPost, "/generations/9/link", `{"product_id":"x"}`), "id", "9"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "Invalid product id.", decode(t, rr)["message"])
}

func TestStatsSummary(t *testing.T) {
	counters := memstore.NewCounterStore()
	ctx := context.Background()
	require.NoError(t, counters.Increment(ctx, domain.CounterTotalRequests))
	require.NoError(t, counters.Increment(ctx, domain.CounterTotalRequests))
	require.NoError(t, counters.Increment(ctx, domain.SuccessCounter(domain.ToolUpscale)))
	require.NoError(t, counters.Increment(ctx, domain.FailureCounter(domain.ToolBackgroundRemoval)))

	rr := httptest.NewRecorder()
	NewApp(&fakeService{}, counters, nil).StatsSummary(rr, shopRequest(http.MethodGet, "/stats", ""))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Total int64                `json:"total_api_requests"`
		Tools map[string]toolStats `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, int64(2), body.Total)
	assert.Equal(t, int64(1), body.Tools["upscale"].Success)
	assert.Equal(t, int64(1), body.Tools["background_removal"].Failed)
	assert.Len(t, body.Tools, len(domain.AllTools()))
}

func TestHealth(t *testing.T) {
	app := NewApp(&fakeService{}, nil, nil)
	rr := httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	app.HealthChecks["redis"] = func(context.Context) error { return errors.New("dial tcp: refused") }
	app.HealthChecks["postgres"] = func(context.Context) error { return nil }
	rr = httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "down", "postgres": "up"}, body["checks"])
}

func TestOpenAPIDocument(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal(openAPISpec, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/tools/upscale", "/tools/upscale-job/{jobID}", "/remove-background", "/background-job/{jobID}", "/recent-generations"} {
		assert.Contains(t, paths, p)
	}
}
