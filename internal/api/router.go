package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleSystemMetrics)

		r.With(s.scanRateLimitMiddleware).Post("/scans", s.handleSubmitScan)

		r.Get("/mode", s.handleGetMode)
		r.Put("/mode", s.handleSetMode)

		r.Route("/reader", func(r chi.Router) {
			r.Get("/", s.handleReaderStatus)
			r.Get("/ports", s.handleListPorts)
			r.Post("/connect", s.handleReaderConnect)
			r.Post("/disconnect", s.handleReaderDisconnect)
		})

		r.Route("/people/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPerson)
			r.Put("/", s.handleEnrolPerson)
			r.Get("/status", s.handlePersonStatus)
		})

		r.Get("/attendance", s.handleListAttendance)
		r.Get("/audit", s.handleListAuditLogs)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ComponentHealth is one entry of the health response.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports overall status and each registered component.
// It answers 503 when any component is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]ComponentHealth, len(s.health))
	healthy := true

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			healthy = false
			components[name] = ComponentHealth{Status: "unhealthy", Error: err.Error()}
			continue
		}
		components[name] = ComponentHealth{Status: "ok"}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
