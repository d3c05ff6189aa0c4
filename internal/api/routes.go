package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/customer-sync/internal/config"
)

// SetupRoutes configures the router. Everything hangs off /api/v1 except the
// health probes, which load balancers hit without a prefix.
func SetupRoutes(imp *ImportHandlers, cust *CustomerHandlers, health *HealthChecker, corsCfg config.CORSConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsCfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health probes (no /api/v1 prefix)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLiveness)
	r.Get("/health/ready", health.HandleReadiness)
	r.Get("/health/db", health.HandleDBStats)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			// Import control and observation
			r.Post("/sync", imp.HandleSync)
			r.Get("/progress", imp.HandleProgress)
			r.Get("/progress/stream", imp.HandleProgressStream)

			// CRUD
			r.Get("/", cust.HandleList)
			r.Post("/", cust.HandleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cust.HandleGet)
				r.Patch("/", cust.HandleUpdate)
				r.Delete("/", cust.HandleDelete)
			})
		})
	})

	return r
}
