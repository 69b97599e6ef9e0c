package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/transactions", h.HandleApplyTransaction)
		r.Post("/transfers", h.HandleTransfer)
		r.Post("/accounts/{accountID}/import", h.HandleImport)
		r.Get("/snapshot", h.HandleSnapshot)
		r.Get("/accounts/{accountID}/lots/{securityID}", h.HandleOpenLots)
		r.Get("/invariant", h.HandleVerifyInvariant)
	})
}
