// Package httpapi wires the HTTP routes.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/infra/geoip"
	"server/internal/middleware"
)

// NewRouter assembles the API router.
func NewRouter(app *handlers.App, logger zerolog.Logger, geo geoip.CountryResolver, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger, geo),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/providers", app.Providers)

	r.Post("/v1/generate", app.Generate)

	r.Route("/v1/prompts", func(r chi.Router) {
		r.Get("/", app.ListPrompts)
		r.Post("/save", app.SavePrompt)
		r.Get("/search", app.SearchPrompts)
		r.Get("/most-failed", app.MostFailedPrompts)
		r.Get("/stats", app.PromptStats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetPrompt)
			r.Get("/thumbnail", app.GetThumbnail)
			r.Patch("/", app.UpdatePrompt)
			r.Delete("/", app.DeletePrompt)
		})
	})

	return r
}
