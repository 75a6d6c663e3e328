package handlers

import "github.com/go-chi/chi/v5"

func RegisterRejectedRoutes(r chi.Router, h *RejectedHandler) {
	r.Route("/api/rejected", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/reprocess", h.Reprocess)
	})
}
