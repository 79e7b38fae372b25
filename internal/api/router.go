package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus exposition (no auth, scraped by the monitoring stack)
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/devices", s.handleListDevices)

			r.Route("/device/{serial}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/status", s.handleDeviceStatus)
				r.Get("/statistics", s.handleDeviceStatistics)
				r.Get("/healthcheck", s.handleDeviceHealthcheck)
				r.Post("/command", s.handleSubmitCommand)
				r.Get("/telemetry", s.handleGetTelemetry)
				r.Post("/telemetry", s.handleSetTelemetry)
			})

			r.Get("/commands", s.handleListCommands)
			r.Route("/command/{uuid}", func(r chi.Router) {
				r.Get("/", s.handleGetCommand)
				r.Delete("/", s.handleDeleteCommand)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
