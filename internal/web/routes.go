package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/petvet/biometry/internal/web/handlers"
)

func (s *Server) setupRoutes(deps Deps) {
	subjectsHandler := handlers.NewSubjectsHandler(deps.Store, deps.Extractor)
	uploadHandler := handlers.NewUploadHandler(deps.Store, deps.Uploads, deps.Pool, deps.Validator)
	jobsHandler := handlers.NewJobsHandler(deps.Pool)
	recognizeHandler := handlers.NewRecognizeHandler(deps.Recognizer, deps.Uploads)
	trainHandler := handlers.NewTrainHandler(deps.Trainer)
	modelsHandler := handlers.NewModelsHandler(deps.Store)
	eventsHandler := handlers.NewEventsHandler(deps.Store)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Subjects
		r.Post("/subjects", subjectsHandler.Create)
		r.Get("/subjects", subjectsHandler.List)
		r.Get("/subjects/{id}", subjectsHandler.Get)
		r.Post("/subjects/{id}/images", uploadHandler.Upload)

		// Extraction jobs
		r.Get("/jobs/{id}", jobsHandler.Get)

		// Recognition
		r.Post("/recognize", recognizeHandler.Recognize)

		// Models
		r.Post("/train", trainHandler.Train)
		r.Get("/models", modelsHandler.List)
		r.Get("/models/active", modelsHandler.Active)

		// Audit log
		r.Get("/events", eventsHandler.List)
		r.Get("/stats", eventsHandler.Stats)
	})
}
