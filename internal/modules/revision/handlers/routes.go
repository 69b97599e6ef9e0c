package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all revision routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/revisions", func(r chi.Router) {
		r.Post("/", h.HandleCreateDraft)
		r.Post("/propose", h.HandlePropose)
		r.Get("/", h.HandleList)
		r.Get("/{revisionID}", h.HandleGet)
		r.Post("/{revisionID}/evaluate", h.HandleEvaluate)
		r.Post("/{revisionID}/override", h.HandleOverride)
		r.Post("/{revisionID}/abort", h.HandleAbort)
	})
}
