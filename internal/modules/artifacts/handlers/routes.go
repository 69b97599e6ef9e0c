package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all artifact routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{artifactID}", h.HandleGet)
		r.Get("/{artifactID}/lineage", h.HandleLineage)
	})
}
