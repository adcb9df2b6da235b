package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/akozyrev/crowdfund-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware краудфандингового реестра.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	// API потребляет браузерный кошелёк-клиент с другого origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.Connect)

		r.Get("/campaigns", h.ListCampaigns)
		r.Get("/campaigns/{id}", h.GetCampaign)
		r.Get("/campaigns/{id}/updates", h.GetUpdates)
		r.Get("/campaigns/{id}/contributors", h.GetContributors)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/campaigns", h.CreateCampaign)
			r.Post("/campaigns/{id}/donations", h.Donate)
			r.Post("/campaigns/{id}/withdraw", h.Withdraw)
			r.Delete("/campaigns/{id}", h.DeleteCampaign)
			r.Post("/campaigns/{id}/updates", h.PostUpdate)

			r.Get("/campaigns/{id}/contribution", h.GetContribution)
			r.Get("/profile", h.GetProfile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
