package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"aistudio/internal/domain"
	"aistudio/internal/generation"
	"aistudio/internal/infra"
)

// GenerationService is the orchestrator surface the controllers call.
type GenerationService interface {
	StartGeneration(ctx context.Context, tool domain.ToolKind, p generation.Payload, tenantID string) (*generation.StartResult, error)
	CheckStatusFor(ctx context.Context, tenantID, providerJobID string, tool domain.ToolKind) (*generation.StatusResult, error)
	RecentGenerations(ctx context.Context, tenantID string, limit int) ([]domain.GenerationJob, error)
	LinkCatalogEntry(ctx context.Context, tenantID string, generationID int64, entryID string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type App struct {
	Generations  GenerationService
	Counters     domain.CounterRepository
	HealthChecks map[string]HealthCheck
	Logger       *infra.Logger
}

// NewApp wires the handlers. counters may be nil, in which case /stats
// answers 503.
func NewApp(generations GenerationService, counters domain.CounterRepository, logger *infra.Logger) *App {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &App{Generations: generations, Counters: counters, HealthChecks: map[string]HealthCheck{}, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Status: "error", Error: errCode, Message: message})
}

// serviceError maps orchestrator errors onto HTTP statuses. The body always
// carries the merchant-facing message, never raw provider output.
func (a *App) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, domain.ErrNotConfigured):
		code, errCode = http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, domain.ErrInvalidInput):
		code, errCode = http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		code, errCode = http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, domain.ErrUpstreamRejected):
		code, errCode = http.StatusUnprocessableEntity, "upstream_rejected"
	case errors.Is(err, domain.ErrResultNotSaved), errors.Is(err, domain.ErrNoResult):
		code, errCode = http.StatusBadGateway, "result_not_saved"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownTool):
		code, errCode = http.StatusNotFound, "not_found"
	}
	evt := a.Logger.Warn()
	if code >= http.StatusInternalServerError {
		evt = a.Logger.Error()
	}
	evt.Err(err).Str("path", r.URL.Path).Int("status_code", code).Msg("request failed")
	a.error(w, code, errCode, domain.UserMessage(err))
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
