package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds the router settings taken from the server config
type RouterConfig struct {
	APIKey       string
	MaxBodyBytes int64
}

// NewRouter sets up HTTP routes. /version is served without auth.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/version", h.GetVersion)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIKey))
		r.Use(BodyLimit(cfg.MaxBodyBytes))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/batches", h.ProcessBatch)
			r.Post("/accounts", h.SyncAccounts)

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", h.CreateJob)
				r.Get("/{jobId}", h.GetJob)
				r.Post("/{jobId}/cancel", h.CancelJob)
			})
		})
	})

	return r
}
