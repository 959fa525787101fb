package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds the per-component checks of GET /health.
const healthCheckTimeout = 3 * time.Second

// componentHealth is the health of one infrastructure component.
type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports server health. The response is 503 when any
// registered component fails its check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]componentHealth, len(names))
	for _, name := range names {
		if err := s.health[name].HealthCheck(ctx); err != nil {
			components[name] = componentHealth{Status: "unhealthy", Error: err.Error()}
			status = "degraded"
			continue
		}
		components[name] = componentHealth{Status: "ok"}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":            status,
		"version":           s.version,
		"components":        components,
		"devices":           s.devices.GetDeviceCount(),
		"websocket_clients": 0,
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.ClientCount()
	}
	if s.sync != nil {
		resp["sync_running"] = s.sync.Running()
	}
	writeJSON(w, code, resp)
}
