// Package handlers provides HTTP request handlers for the trainctl server API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/launcher"
	"github.com/forgeml/trainctl/internal/logger"
)

// Handler holds the dependencies shared by all API handlers.
//
// A single Handler instance serves all routes; the launcher manager and
// recipe registry behind it are safe for concurrent use.
type Handler struct {
	config     *config.Config
	manager    *launcher.Manager
	version    string
	buildTime  string
	serverName string
}

// NewHandler creates a handler with all required dependencies.
//
// Parameters:
//   - cfg: Server configuration
//   - mgr: Launcher manager owning jobs, devices and recipes
//   - version: Server version string
//   - buildTime: Build timestamp for diagnostics
//   - serverName: Persistent server instance name
//
// Returns:
//   - Initialized handler ready for route registration
func NewHandler(cfg *config.Config, mgr *launcher.Manager, version, buildTime, serverName string) *Handler {
	return &Handler{
		config:     cfg,
		manager:    mgr,
		version:    version,
		buildTime:  buildTime,
		serverName: serverName,
	}
}

// WriteJSON writes a JSON response with the given status code.
func (h *Handler) WriteJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

// WriteError writes a JSON error response with the given status code.
func (h *Handler) WriteError(w http.ResponseWriter, message string, status int) {
	h.WriteJSON(w, api.ErrorResponse{Error: message}, status)
}

// decodeRequest parses a JSON request body into v. An empty body is
// allowed and leaves v at its zero value, so simple POST endpoints work
// without a payload.
func (h *Handler) decodeRequest(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// Health handles GET /api/health requests.
//
// Returns 200 with {"status": "ok"} while the server is able to answer.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, api.HealthResponse{Status: "ok"}, http.StatusOK)
}

// Version handles GET /api/version requests.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, api.VersionResponse{
		Version:    h.version,
		BuildTime:  h.buildTime,
		ServerName: h.serverName,
	}, http.StatusOK)
}
