package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultRequestTimeout bounds every request/response optimizer route.
// The anneal stream is mounted outside it and uses streamSolveTimeout.
const DefaultRequestTimeout = 60 * time.Second

// RegisterRoutes registers all optimizer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(h.requestTimeout))

			r.Get("/defaults", h.HandleGetDefaults)
			r.Post("/anneal", h.HandleAnneal)
			r.Post("/qp", h.HandleSolveQP)
			r.Post("/estimate", h.HandleEstimate)
			r.Get("/runs", h.HandleListRuns)
			r.Get("/runs/{id}", h.HandleGetRun)
		})

		// The websocket is hijacked; a 504 from the timeout middleware
		// would land on the raw connection.
		r.Get("/anneal/stream", h.HandleAnnealStream)
	})
}
