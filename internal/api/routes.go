package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics
	if h.health != nil {
		r.Get("/health", h.health.HandleHealth)
		r.Get("/health/live", h.health.HandleLiveness)
		r.Get("/health/ready", h.health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		})
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", h.TrackEvent)

		r.Route("/merchants/{merchantID}", func(r chi.Router) {
			// Paths
			r.Get("/paths/{recipient}", h.GetRecipientPath)
			r.Post("/paths/rebuild", h.RebuildPaths)

			// Graph analytics
			r.Get("/levels", h.GetLevels)
			r.Get("/flow", h.GetFlow)
			r.Get("/transitions", h.GetTransitions)
			r.Get("/branches", h.GetBranches)

			// Roots and user classification
			r.Get("/roots", h.ListRoots)
			r.Get("/roots/candidates", h.ListRootCandidates)
			r.Post("/roots/detect", h.DetectRoots)
			r.Post("/users/recalculate", h.RecalculateUsers)
			r.Get("/users/stats", h.GetUserStats)

			// Maintenance
			r.Delete("/data", h.DeleteMerchantData)
		})

		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Put("/root", h.SetCampaignRoot)
			r.Put("/tag", h.SetCampaignTag)
			r.Put("/valuable", h.SetCampaignValuable)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Get("/", h.ListProjects)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Put("/", h.UpdateProject)
				r.Delete("/", h.DeleteProject)

				r.Get("/roots", h.ListProjectRoots)
				r.Put("/roots/{campaignID}", h.SetProjectRoot)
				r.Delete("/roots/{campaignID}", h.RemoveProjectRoot)
				r.Get("/tags", h.ListProjectTags)
				r.Put("/tags/{campaignID}", h.SetProjectTag)

				r.Get("/results", h.GetProjectResults)
				r.Post("/analyze", h.AnalyzeProject)
				r.Get("/runs", h.ListProjectRuns)
				r.Get("/runs/latest", h.GetLatestSnapshot)
			})
		})

		r.Get("/analysis/queue", h.GetQueueStatus)
	})

	return r
}
