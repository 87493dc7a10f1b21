package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/photo-jobs/internal/web/handlers"
)

// requestTimeout bounds every request except the event stream.
const requestTimeout = 5 * time.Minute

func (s *Server) setupRoutes() {
	svc := s.services

	jobsHandler := handlers.NewJobsHandler(svc.Pipeline.Bus)
	uploadHandler := handlers.NewUploadHandler(svc.Repo.Assets, svc.Storage, svc.Pipeline.Scheduler)
	assetsHandler := handlers.NewAssetsHandler(svc.Repo)
	configHandler := handlers.NewConfigHandler(svc.System)
	searchHandler := handlers.NewSearchHandler(svc.System, svc.ML, svc.Repo.Embeddings)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck(svc.Repo.Assets))

		// Server-sent events must outlive the request timeout.
		r.Get("/jobs/events", jobsHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Jobs
			r.Get("/jobs", jobsHandler.List)
			r.Get("/jobs/{name}", jobsHandler.Get)
			r.Put("/jobs/{name}", jobsHandler.Command)

			// Assets
			r.Post("/assets", uploadHandler.Upload)
			r.Get("/assets/{id}", assetsHandler.Get)

			// System config
			r.Get("/system-config", configHandler.Get)
			r.Put("/system-config", configHandler.Update)

			// Search
			r.Post("/search/smart", searchHandler.Smart)
		})
	})
}
