package httpapi

import (
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"aistudio/internal/domain"
	"aistudio/internal/http/handlers"
	"aistudio/internal/middleware"
)

type Options struct {
	Logger zerolog.Logger

	ShopifySecret   string
	ShopifyAPIKey   string
	AllowShopHeader bool
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup

	// StorageDir is served read-only under StoragePublicPath.
	StorageDir        string
	StoragePublicPath string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Country(opts.CountryLookup),
		middleware.Logger(opts.Logger),
		middleware.BaseURL,
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	if opts.StorageDir != "" {
		mountStorage(r, opts.StoragePublicPath, opts.StorageDir)
	}

	// One limiter for every job submission route.
	limit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ShopSession(opts.ShopifySecret, opts.ShopifyAPIKey, opts.AllowShopHeader))
		limited := r.With(limit)

		limited.Post("/remove-background", app.StartTool(domain.ToolBackgroundRemoval))
		r.Get("/background-job/{jobID}", app.ToolStatus(domain.ToolBackgroundRemoval))

		r.Route("/tools", func(r chi.Router) {
			limited := r.With(limit)
			limited.Post("/upscale", app.StartTool(domain.ToolUpscale))
			r.Get("/upscale-job/{jobID}", app.ToolStatus(domain.ToolUpscale))
			limited.Post("/enhance", app.StartTool(domain.ToolEnhance))
			r.Get("/enhance-job/{jobID}", app.ToolStatus(domain.ToolEnhance))
			limited.Post("/magic-eraser", app.StartTool(domain.ToolMagicEraser))
			r.Get("/magic-eraser-job/{jobID}", app.ToolStatus(domain.ToolMagicEraser))
			limited.Post("/lighting", app.StartTool(domain.ToolLighting))
			r.Get("/lighting-job/{jobID}", app.ToolStatus(domain.ToolLighting))
		})

		r.Get("/recent-generations", app.RecentGenerations)
		r.Post("/generations/{id}/link", app.LinkGeneration)
		r.Get("/stats", app.StatsSummary)
	})

	return r
}

// mountStorage serves stored results. Directory listings are refused.
func mountStorage(r chi.Router, publicPath, dir string) {
	publicPath = "/" + strings.Trim(publicPath, "/")
	files := stdhttp.StripPrefix(publicPath, stdhttp.FileServer(stdhttp.Dir(dir)))
	r.Get(publicPath+"/*", func(w stdhttp.ResponseWriter, req *stdhttp.Request) {
		if strings.HasSuffix(req.URL.Path, "/") {
			stdhttp.NotFound(w, req)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, req)
	})
}
