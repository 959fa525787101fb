package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/devsync-core/internal/auth"
)

// defaultMetricsPath is used when metrics are enabled without a path.
const defaultMetricsPath = "/metrics"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = defaultMetricsPath
		}
		r.Handle(path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/commands", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermCommandRead)).Get("/", s.handleListCommands)
				r.With(s.requirePermission(auth.PermCommandSubmit)).Post("/", s.handleEnqueueCommand)
				r.With(s.requirePermission(auth.PermCommandRead)).Get("/stats", s.handleCommandStats)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermCommandRead)).Get("/", s.handleGetCommand)
					r.With(s.requirePermission(auth.PermCommandSubmit)).Post("/cancel", s.handleCancelCommand)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceDelete)).Delete("/", s.handleDeleteDevice)

					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/telemetry", s.handleQueryTelemetry)
					r.With(s.requirePermission(auth.PermTelemetryWrite)).Post("/telemetry", s.handleRecordTelemetry)

					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/config", s.handleListConfig)
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/config/{key}", s.handleGetConfig)
					r.With(s.requirePermission(auth.PermConfigWrite)).Put("/config/{key}", s.handleSetConfig)
				})
			})

			r.Route("/sync", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermSyncTrigger)).Post("/", s.handleTriggerSync)
				r.With(s.requirePermission(auth.PermCommandRead)).Get("/status", s.handleSyncStatus)
			})
		})
	})

	return r
}
