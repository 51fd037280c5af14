package http

import (
	"github.com/DRSN-tech/match-service/internal/progress"
	"github.com/DRSN-tech/match-service/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(tracker *progress.Tracker) {
	r.router.Get("/healthz", healthz)
	r.router.Get("/readyz", healthz)

	r.router.Route("/v1", func(v1 chi.Router) {
		prHandler := NewProgressHandler(tracker, r.logger)
		registerProgressRoutes(v1, prHandler)
	})
}

func registerProgressRoutes(router chi.Router, prHandler *ProgressHandler) {
	router.Route("/jobs", func(jobs chi.Router) {
		jobs.Get("/{job_id}/progress", prHandler.getProgress)
	})
}
