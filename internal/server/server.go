// Package server provides the HTTP surface of tagwatch: operational probes,
// the telemetry control API and the mount point for module routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/HerbHall/tagwatch/internal/version"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PluginSource provides the server with module metadata, health and routes.
// Defined here (consumer-side) rather than importing the concrete registry.
type PluginSource interface {
	AllRoutes() map[string][]plugin.Route
	All() []plugin.Plugin
	Health(ctx context.Context) map[string]plugin.HealthStatus
}

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// SimpleRouteRegistrar can register routes outside the /api/v1 module prefix.
type SimpleRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// StreamingRoutes is implemented by registrars whose routes hold a
// connection open for a whole session. Those paths skip rate limiting.
type StreamingRoutes interface {
	StreamingPaths() []string
}

// Server is the main tagwatch HTTP server.
type Server struct {
	httpServer *http.Server
	plugins    PluginSource
	telemetry  Telemetry
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// New creates a new Server with middleware and routes.
// ready may be nil, in which case /readyz always reports ready.
// Extra registrars mount routes at the root, such as the live websocket.
func New(addr string, plugins PluginSource, telem Telemetry, logger *zap.Logger, ready ReadinessChecker, extraRoutes ...SimpleRouteRegistrar) *Server {
	mux := http.NewServeMux()

	s := &Server{
		plugins:   plugins,
		telemetry: telem,
		logger:    logger,
		mux:       mux,
		ready:     ready,
	}

	quiet := []string{"/healthz", "/readyz", "/metrics"}
	exempt := append([]string(nil), quiet...)

	s.registerRoutes()
	for _, r := range extraRoutes {
		r.RegisterRoutes(mux)
		if sr, ok := r.(StreamingRoutes); ok {
			exempt = append(exempt, sr.StreamingPaths()...)
		}
	}
	s.mountPluginRoutes()

	handler := Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, quiet),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(100, 200, exempt),
	)

	// No write timeout: websocket connections are long lived.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// registerRoutes sets up all core routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)

	if s.telemetry != nil {
		// Unversioned reset kept for existing dashboards.
		s.mux.HandleFunc("GET /reset", s.handleReset)
		s.mux.HandleFunc("POST /api/v1/reset", s.handleReset)
		s.mux.HandleFunc("GET /api/v1/streams", s.handleStreams)
		s.mux.HandleFunc("GET /api/v1/streams/{stream}", s.handleStream)
		s.mux.HandleFunc("GET /api/v1/threshold", s.handleThreshold)
	}
}

// mountPluginRoutes registers all module routes under /api/v1/{module}/.
func (s *Server) mountPluginRoutes() {
	for pluginName, routes := range s.plugins.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz is a liveness probe -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadyz returns 200 once the device is listening.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Modules map[string]plugin.HealthStatus `json:"modules,omitempty"`
}

// PluginResponse describes a registered module.
type PluginResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Roles       []string `json:"roles,omitempty"`
}

// handleHealth rolls module health up into one status. Any unhealthy module
// makes the service unhealthy; a degraded one makes it degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	modules := s.plugins.Health(r.Context())
	status := "ok"
	for _, h := range modules {
		switch h.Status {
		case "unhealthy":
			status = "unhealthy"
		case "degraded":
			if status == "ok" {
				status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Service: "tagwatch",
		Version: version.Map(),
		Modules: modules,
	})
}

// handlePlugins returns the list of active modules.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.plugins.All()
	info := make([]PluginResponse, 0, len(plugins))
	for _, p := range plugins {
		pi := p.Info()
		info = append(info, PluginResponse{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
			Roles:       pi.Roles,
		})
	}
	writeJSON(w, http.StatusOK, info)
}
