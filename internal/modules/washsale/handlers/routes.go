package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all wash-sale routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/washsale", func(r chi.Router) {
		r.Post("/scan", h.HandleScan)
		r.Post("/apply", h.HandleScanAndApply)
		r.Get("/adjustments", h.HandleAdjustments)
	})
}
