// Package api provides the HTTP admin API for a cache manager
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/objectfs/cachemgr/internal/cache"
	"github.com/objectfs/cachemgr/pkg/health"
	"github.com/objectfs/cachemgr/pkg/httpcache"
	"github.com/objectfs/cachemgr/pkg/types"
)

// Version is reported by /info
const Version = "0.1.0"

// Server serves health, cache statistics and invalidation endpoints
type Server struct {
	httpServer    *http.Server
	manager       *cache.Manager
	healthTracker *health.Tracker
	metrics       http.Handler
	logger        *slog.Logger
	config        ServerConfig
	handler       http.Handler
	listener      net.Listener
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// StatsMaxAge lets clients cache statistics responses. Zero disables
	// caching headers.
	StatsMaxAge time.Duration `yaml:"stats_max_age" json:"stats_max_age"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		StatsMaxAge:  5 * time.Second,
		EnableCORS:   true,
	}
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a new API server. healthTracker may be nil.
func NewServer(config ServerConfig, manager *cache.Manager, healthTracker *health.Tracker, opts ...Option) *Server {
	s := &Server{
		manager:       manager,
		healthTracker: healthTracker,
		logger:        slog.Default().With("component", "admin-api"),
		config:        config,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Cache endpoints
	stats := http.Handler(http.HandlerFunc(s.handleCaches))
	stat := http.Handler(http.HandlerFunc(s.handleCache))
	if config.StatsMaxAge > 0 {
		withHeaders := httpcache.Middleware(config.StatsMaxAge)
		stats, stat = withHeaders(stats), withHeaders(stat)
	}
	mux.Handle("GET /caches", stats)
	mux.Handle("GET /caches/{name}", stat)
	mux.HandleFunc("DELETE /caches/{name}", s.handleClearCache)
	mux.HandleFunc("DELETE /caches", s.handleClearAll)
	mux.HandleFunc("POST /invalidate", s.handleInvalidate)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.HandleFunc("/info", s.handleInfo)

	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("Starting API server", "address", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "Health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	components := s.healthTracker.GetAllComponents()

	response := map[string]interface{}{
		"status":     overallHealth.String(),
		"timestamp":  time.Now(),
		"components": len(components),
	}

	statusCode := http.StatusOK
	if overallHealth == health.StateUnavailable {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Health tracking not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.healthTracker.GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// handleReadiness stays ready while stores are down: caches fall back to
// memory or absorb failures.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := map[string]interface{}{
		"ready":     s.manager != nil,
		"timestamp": time.Now(),
	}
	if s.healthTracker != nil {
		response["status"] = s.healthTracker.GetOverallHealth().String()
	}

	statusCode := http.StatusOK
	if s.manager == nil {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, response)
}

// Cache endpoint handlers

// CacheInfo describes one registered cache
type CacheInfo struct {
	Name     string            `json:"name"`
	Strategy types.Strategy    `json:"strategy"`
	Storage  types.StorageKind `json:"storage"`
	MaxSize  int               `json:"max_size"`
	TTL      string            `json:"ttl"`
	Size     int               `json:"size"`
	Stats    types.CacheStats  `json:"stats"`
	Error    string            `json:"error,omitempty"`
}

func (s *Server) cacheInfo(ctx context.Context, inst *cache.Instance) CacheInfo {
	cfg := inst.Config()
	info := CacheInfo{
		Name:     inst.Name(),
		Strategy: cfg.Strategy,
		Storage:  inst.Storage(),
		MaxSize:  cfg.MaxSize,
		TTL:      cfg.TTL.String(),
		Stats:    inst.Stats(),
	}
	size, err := inst.Size(ctx)
	if err != nil {
		info.Error = err.Error()
	}
	info.Size = size
	return info
}

func (s *Server) handleCaches(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	names := s.manager.Names()
	caches := make([]CacheInfo, 0, len(names))
	for _, name := range names {
		if inst, ok := s.manager.GetCache(name); ok {
			caches = append(caches, s.cacheInfo(r.Context(), inst))
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"caches":    caches,
		"count":     len(caches),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	name := r.PathValue("name")
	inst, ok := s.manager.GetCache(name)
	if !ok {
		s.respondError(w, http.StatusNotFound, "Cache not found: "+name)
		return
	}
	s.respondJSON(w, http.StatusOK, s.cacheInfo(r.Context(), inst))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	name := r.PathValue("name")
	inst, ok := s.manager.GetCache(name)
	if !ok {
		s.respondError(w, http.StatusNotFound, "Cache not found: "+name)
		return
	}
	if err := inst.Clear(r.Context()); err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Info("Cache cleared", "cache", name)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleared":   name,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	if err := s.manager.ClearAll(r.Context()); err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Info("All caches cleared")
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cleared":   s.manager.Names(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		s.respondError(w, http.StatusBadRequest, "pattern query parameter required")
		return
	}

	removed, err := s.manager.InvalidatePattern(r.Context(), pattern)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Info("Keys invalidated", "pattern", pattern, "removed", removed)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pattern":   pattern,
		"removed":   removed,
		"timestamp": time.Now(),
	})
}

func (s *Server) requireManager(w http.ResponseWriter) bool {
	if s.manager == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Cache manager not configured")
		return false
	}
	return true
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	endpoints := []string{
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"GET /caches",
		"GET /caches/{name}",
		"DELETE /caches",
		"DELETE /caches/{name}",
		"POST /invalidate?pattern=",
		"/info",
	}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "cachemgr admin API",
		"version":   Version,
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
