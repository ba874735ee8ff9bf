// Package router sets up the HTTP routes and middleware chains for the
// postforge API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"postforge/internal/handlers"
	"postforge/internal/middleware"
)

// Deps are the handlers and shared middleware the router mounts.
type Deps struct {
	Drafts    *handlers.Drafts
	Templates *handlers.Templates
	Health    http.Handler
	Metrics   http.Handler
	// GenerationLimit guards the endpoints that call the image model.
	// Nil disables rate limiting.
	GenerationLimit *middleware.RateLimiter
}

// New creates and returns the configured Chi router with all middleware
// and route groups wired up.
func New(d Deps) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.SecureHeaders)

	if d.Health != nil {
		r.Method(http.MethodGet, "/health", d.Health)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	limited := d.GenerationLimit.Middleware

	r.Route("/api", func(r chi.Router) {
		r.Route("/drafts", func(r chi.Router) {
			r.Get("/", d.Drafts.List)
			r.With(limited).Post("/", d.Drafts.Create)
			r.Get("/{id}", d.Drafts.Get)
			r.Post("/{id}/approve", d.Drafts.Approve)
			r.Post("/{id}/reject", d.Drafts.Reject)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", d.Templates.List)
			r.With(limited).Post("/", d.Templates.Create)
			r.Post("/manual", d.Templates.CreateManual)
			r.Get("/{id}", d.Templates.Get)
			r.Patch("/{id}", d.Templates.Update)
			r.Delete("/{id}", d.Templates.Delete)
			r.With(limited).Post("/{id}/use", d.Templates.Use)
		})
	})

	return r
}
