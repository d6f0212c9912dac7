package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"coursepipe/internal/domain"
	"coursepipe/internal/http/handlers"
	"coursepipe/internal/middleware"
)

type Options struct {
	Verifier        middleware.TokenVerifier
	AllowedOrigins  []string
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.Verifier))

		r.Route("/v1/uploads", func(r chi.Router) {
			r.Post("/", app.CreateUpload)
			r.Get("/{sessionID}/files/{fileID}", app.UploadOffset)
			r.Put("/{sessionID}/files/{fileID}", app.UploadChunk)
			r.Post("/{sessionID}/files/{fileID}/complete", app.CompleteUpload)
		})

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.CreateJobs)
			r.Get("/{id}", app.GetJob)
		})

		r.With(middleware.RequireRole(domain.RolePipeline)).
			Put("/v1/pipeline/jobs/{id}", app.ReportProgress)
	})

	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/fixes", app.OpsRecentFixes)
		r.Get("/patterns", app.OpsPatterns)
		r.Post("/patterns/{key}/promote", app.OpsPromotePattern)
		r.Get("/jobs", app.OpsActiveJobs)
		r.Post("/sweep", app.OpsSweep)
	})

	return r
}
