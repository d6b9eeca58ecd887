package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"aistudio/internal/middleware"
)

type generationItem struct {
	ID                int64     `json:"id"`
	Tool              string    `json:"tool"`
	SourceImageURL    string    `json:"source_image_url"`
	ResultImageURL    string    `json:"result_image_url"`
	LinkedProductID   *string   `json:"linked_product_id"`
	ProcessingSeconds float64   `json:"processing_seconds"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RecentGenerations lists the shop's latest completed generations, newest
// first. The optional limit query parameter is capped server side.
func (a *App) RecentGenerations(w http.ResponseWriter, r *http.Request) {
	shop := middleware.ShopFromContext(r.Context())
	if shop == "" {
		a.error(w, http.StatusForbidden, "forbidden", "Shop not authenticated.")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := a.Generations.RecentGenerations(r.Context(), shop, limit)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	items := make([]generationItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, generationItem{
			ID:                job.ID,
			Tool:              string(job.Tool),
			SourceImageURL:    job.SourceImageRef,
			ResultImageURL:    job.ResultImageRef,
			LinkedProductID:   nullable(job.LinkedCatalogEntryID),
			ProcessingSeconds: job.ProcessingSeconds,
			CreatedAt:         job.CreatedAt,
			UpdatedAt:         job.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"generations": items})
}

type linkRequest struct {
	ProductID string `json:"product_id"`
}

// LinkGeneration attaches a generation to a catalog product. product_id may
// be numeric or a gid://shopify/Product gid.
func (a *App) LinkGeneration(w http.ResponseWriter, r *http.Request) {
	shop := middleware.ShopFromContext(r.Context())
	if shop == "" {
		a.error(w, http.StatusForbidden, "forbidden", "Shop not authenticated.")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid generation id.")
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid request body.")
		return
	}
	if err := a.Generations.LinkCatalogEntry(r.Context(), shop, id, req.ProductID); err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"status": "ok", "generation_id": id})
}
