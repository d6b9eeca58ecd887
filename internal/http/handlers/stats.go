package handlers

import (
	"net/http"

	"aistudio/internal/domain"
)

type toolStats struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// StatsSummary reports the usage counters. Counters are approximate.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	if a.Counters == nil {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "Stats are not available.")
		return
	}
	ctx := r.Context()
	total, err := a.Counters.Get(ctx, domain.CounterTotalRequests)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	tools := make(map[string]toolStats)
	for _, tool := range domain.AllTools() {
		success, err := a.Counters.Get(ctx, domain.SuccessCounter(tool))
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
			return
		}
		failed, err := a.Counters.Get(ctx, domain.FailureCounter(tool))
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
			return
		}
		tools[string(tool)] = toolStats{Success: success, Failed: failed}
	}
	a.json(w, http.StatusOK, map[string]any{
		"total_api_requests": total,
		"tools":              tools,
	})
}
