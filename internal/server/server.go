// Package server provides the HTTP server implementation for the trainctl
// application.
//
// This package implements the server-side of the trainctl API, handling
// incoming HTTP requests from CLI clients. It provides:
//   - RESTful API endpoints for all operations
//   - Request routing and middleware
//   - Integration with the recipe registry and launcher manager
//   - Graceful shutdown support
//   - Request logging and error handling
//
// The server is designed to run as a long-lived service process, either as
// a standalone daemon or as a systemd service. It maintains state including
// tracked jobs and device allocations.
//
// Example usage:
//
//	cfg := config.NewDefaultConfig()
//	srv, err := server.NewServer(cfg, "1.0.0")
//	if err != nil {
//	    log.Fatalf("Server init failed: %v", err)
//	}
//	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
//	    log.Fatalf("Server failed: %v", err)
//	}
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/device"
	"github.com/forgeml/trainctl/internal/launcher"
	"github.com/forgeml/trainctl/internal/logger"
	"github.com/forgeml/trainctl/internal/recipes"
	"github.com/forgeml/trainctl/internal/server/handlers"

	// Recipe families register themselves with the default registry.
	_ "github.com/forgeml/trainctl/internal/recipes/bert"
)

// Server is the HTTP server that handles API requests from clients.
//
// The Server wires together the recipe registry, the device manager and
// the launcher manager, and exposes them over a localhost HTTP API.
// It is safe for concurrent requests.
type Server struct {
	// config holds the server configuration including host, port and
	// storage layout.
	config *config.Config

	// httpServer is the underlying HTTP server instance.
	httpServer *http.Server

	// manager owns jobs, devices and launcher backends.
	manager *launcher.Manager

	// version is the server version string.
	version string

	// buildTime is the timestamp when the server process started.
	buildTime string

	// serverName is the persistent identity of this server instance,
	// loaded from server.conf and generated on first start.
	serverName string
}

// NewServer creates and initializes a new server instance.
//
// Initialization detects local devices, loads the launch environment
// from the config directory, and constructs the launcher manager with
// its available backends. Jobs from a previous server run are restored
// by the backends during this call.
//
// Parameters:
//   - cfg: The configuration for the server
//   - version: Server version string
//
// Returns:
//   - A fully initialized Server ready to Start()
//   - Error if device detection or launcher initialization fails
func NewServer(cfg *config.Config, version string) (*Server, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to prepare directories: %w", err)
	}

	identity, err := cfg.GetOrCreateServerIdentity()
	if err != nil {
		return nil, err
	}

	devices, err := device.NewManager(cfg.Storage.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("device detection failed: %w", err)
	}

	env, err := config.LoadLaunchEnv(cfg.Storage.ConfigDir)
	if err != nil {
		return nil, err
	}

	mgr, err := launcher.NewManager(cfg, recipes.GetDefaultRegistry(), devices, env)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:     cfg,
		manager:    mgr,
		version:    version,
		buildTime:  time.Now().Format(time.RFC3339),
		serverName: identity.Name,
	}, nil
}

// Start starts the HTTP server and begins accepting connections.
//
// The method blocks until the server is shut down via Stop() or
// encounters a fatal error.
//
// The server registers the following endpoints:
//   - GET  /api/health        - Health check
//   - GET  /api/version       - Version information
//   - POST /api/recipes/list  - List training recipes
//   - POST /api/recipes/show  - Show one recipe
//   - GET  /api/devices/list  - List accelerators and host capabilities
//   - POST /api/jobs/submit   - Submit a training job
//   - POST /api/jobs/list     - List jobs
//   - POST /api/jobs/get      - Get one job
//   - POST /api/jobs/stop     - Stop a job
//   - POST /api/jobs/remove   - Remove a finished job
//   - GET  /api/jobs/logs     - Stream a job's training log
//
// All requests are logged through the logging middleware.
func (s *Server) Start() error {
	h := handlers.NewHandler(s.config, s.manager, s.version, s.buildTime, s.serverName)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", h.Health)
	mux.HandleFunc("/api/version", h.Version)

	mux.HandleFunc("/api/recipes/list", h.ListRecipes)
	mux.HandleFunc("/api/recipes/show", h.ShowRecipe)

	mux.HandleFunc("/api/devices/list", h.ListDevices)

	mux.HandleFunc("/api/jobs/submit", h.SubmitJob)
	mux.HandleFunc("/api/jobs/list", h.ListJobs)
	mux.HandleFunc("/api/jobs/get", h.GetJob)
	mux.HandleFunc("/api/jobs/stop", h.StopJob)
	mux.HandleFunc("/api/jobs/remove", h.RemoveJob)
	mux.HandleFunc("/api/jobs/logs", h.StreamLogs)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.loggingMiddleware(mux),
		// No write timeout: log streaming keeps connections open for
		// the lifetime of a training job.
		IdleTimeout: 120 * time.Second,
	}

	s.manager.StartBackgroundTasks()

	logger.Info("Starting trainctl server %q on %s", s.serverName, addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server without interrupting active
// connections, then stops the manager's background tasks. Running
// training jobs are left running; they are re-attached on the next
// server start.
//
// Parameters:
//   - ctx: Context with timeout for graceful shutdown
//
// Returns:
//   - nil if shutdown completes within the timeout
//   - error if shutdown fails or times out
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Shutting down server...")
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.manager.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// loggingMiddleware wraps an HTTP handler to log all requests.
//
// Each incoming request is logged with the client address, method and
// path; completion time is logged at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Info("%s %s %s", r.RemoteAddr, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		logger.Debug("Completed in %v", time.Since(start))
	})
}
