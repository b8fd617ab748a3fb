/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/clients/*    Report submission, runs, history, overrides
  /api/snapshots/*  Snapshot retrieval
  /api/catalog      Catalog introspection
  /api/admin/*      Pending-run sweep
  /api/health       Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/catalog", h.GetCatalog)

		r.Route("/clients/{id}", func(r chi.Router) {
			r.Post("/reports", h.SubmitReport)
			r.Post("/runs", h.TriggerRun)
			r.Get("/snapshots", h.GetClientHistory)

			r.Route("/overrides", func(r chi.Router) {
				r.Get("/", h.ListOverrides)
				r.Put("/{variable}", h.PutOverride)
				r.Delete("/{variable}", h.DeleteOverride)
			})
		})

		r.Get("/snapshots/{id}", h.GetSnapshot)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/run-pending", h.RunPending)
		})
	})

	return r
}
