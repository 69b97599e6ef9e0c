package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all harvesting routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/harvesting", func(r chi.Router) {
		r.Post("/rank", h.HandleRank)
	})
}
