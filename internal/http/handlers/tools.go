package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"aistudio/internal/domain"
	"aistudio/internal/generation"
	"aistudio/internal/middleware"
)

// Masks arrive base64 encoded inside the JSON body.
const maxToolBody = 25 << 20

type toolRequest struct {
	ImageURL    string `json:"image_url"`
	Image       string `json:"image"`
	Scale       int    `json:"scale"`
	FaceEnhance bool   `json:"face_enhance"`
	MaskBase64  string `json:"mask_base64"`
	Version     string `json:"version"`
	Prompt      string `json:"prompt"`
}

func (req toolRequest) payload() generation.Payload {
	image := strings.TrimSpace(req.ImageURL)
	if image == "" {
		image = strings.TrimSpace(req.Image)
	}
	return generation.Payload{
		ImageURL:    image,
		Scale:       req.Scale,
		FaceEnhance: req.FaceEnhance,
		MaskBase64:  req.MaskBase64,
		Version:     req.Version,
		Prompt:      req.Prompt,
	}
}

type startResponse struct {
	Status       generation.Status `json:"status"`
	JobID        *string           `json:"job_id"`
	ResultURL    *string           `json:"result_url"`
	GenerationID int64             `json:"generation_id"`
}

type statusResponse struct {
	Status       generation.Status `json:"status"`
	JobID        *string           `json:"job_id"`
	ResultURL    *string           `json:"result_url"`
	GenerationID *int64            `json:"generation_id"`
	Message      *string           `json:"message"`
}

// StartTool returns the controller that submits a job for tool.
func (a *App) StartTool(tool domain.ToolKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop := middleware.ShopFromContext(r.Context())
		if shop == "" {
			a.error(w, http.StatusForbidden, "forbidden", "Shop not authenticated.")
			return
		}
		var req toolRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxToolBody)).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				a.error(w, http.StatusRequestEntityTooLarge, "too_large", "The image is too large. Try a smaller image.")
				return
			}
			a.error(w, http.StatusBadRequest, "bad_request", "Invalid request body.")
			return
		}

		res, err := a.Generations.StartGeneration(r.Context(), tool, req.payload(), shop)
		if err != nil {
			a.serviceError(w, r, err)
			return
		}
		a.json(w, http.StatusOK, startResponse{
			Status:       res.Status,
			JobID:        nullable(res.JobID),
			ResultURL:    nullable(res.ResultURL),
			GenerationID: res.GenerationID,
		})
	}
}

// ToolStatus returns the controller that polls a job for tool. An error
// status from the orchestrator is answered with 422 and the job message.
func (a *App) ToolStatus(tool domain.ToolKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop := middleware.ShopFromContext(r.Context())
		if shop == "" {
			a.error(w, http.StatusForbidden, "forbidden", "Shop not authenticated.")
			return
		}
		res, err := a.Generations.CheckStatusFor(r.Context(), shop, chi.URLParam(r, "jobID"), tool)
		if err != nil {
			a.serviceError(w, r, err)
			return
		}
		code := http.StatusOK
		if res.Status == generation.StatusError {
			code = http.StatusUnprocessableEntity
		}
		a.json(w, code, statusResponse{
			Status:       res.Status,
			JobID:        nullable(res.JobID),
			ResultURL:    nullable(res.ResultURL),
			GenerationID: res.GenerationID,
			Message:      nullable(res.Message),
		})
	}
}
