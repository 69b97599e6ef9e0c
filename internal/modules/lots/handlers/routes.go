package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all sale routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Post("/simulate", h.HandleSimulateSale)
		r.Post("/", h.HandleCommitSale)
	})
}
