package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"adflow/internal/http/handlers"
	"adflow/internal/middleware"
)

// Options carries the router's cross-cutting configuration.
type Options struct {
	CallbackSecret  string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	StaticDir       string
}

// NewRouter assembles the HTTP surface: public submission/status/download
// routes, shared-secret workflow engine routes, and the static asset tree.
func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/submit", app.Submit)
		r.Get("/status", app.Status)
		r.Post("/download-selected", app.DownloadSelected)

		r.Route("/n8n", func(r chi.Router) {
			r.Use(middleware.SharedSecret("x-n8n-secret", opts.CallbackSecret))
			r.Post("/callback", app.Callback)
			r.Post("/batch-video-generation", app.BatchVideoGeneration)
		})
	})

	if opts.StaticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
