package api

import (
	"net/http"
)

// HealthResponse is the body of GET /api/system/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
	Channels   int               `json:"open_channels"`
	Clients    int               `json:"websocket_clients"`
}

// handleHealth reports overall service health. Catalogue and telemetry
// reads keep working when a dependency is down, so a failed component
// degrades the status rather than failing the endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string)
	status := "ok"

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			components["database"] = "error"
			status = "degraded"
		} else {
			components["database"] = "ok"
		}
	} else {
		components["database"] = "not_configured"
	}

	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			components["mqtt"] = "connected"
		} else {
			components["mqtt"] = "disconnected"
			status = "degraded"
		}
	} else {
		components["mqtt"] = "not_configured"
	}

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     status,
		Version:    s.version,
		Components: components,
		Channels:   s.telemetry.ChannelCount(),
		Clients:    clients,
	})
}
