package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Health runs every registered check and answers 503 when any is down.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if len(a.HealthChecks) == 0 {
		a.json(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(a.HealthChecks))
	for name := range a.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := a.HealthChecks[name](ctx); err != nil {
			a.Logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = "down"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}
	a.json(w, code, map[string]any{"status": status, "checks": checks})
}
