// Package server provides the read-only ops HTTP surface: health,
// metrics and ledger inspection endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tradenotify/internal/database"
	"tradenotify/internal/ledger"
	"tradenotify/internal/metrics"
)

// Config holds server configuration.
type Config struct {
	Log     zerolog.Logger
	DB      *database.DB
	Fills   *ledger.FillRepository
	Lots    *ledger.LotRepository
	Metrics *metrics.Metrics
	Port    int
	DevMode bool
}

// Server is the ops HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	db     *database.DB
	fills  *ledger.FillRepository
	lots   *ledger.LotRepository
	log    zerolog.Logger
}

// New creates the ops server with routes and middleware configured.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		db:     cfg.DB,
		fills:  cfg.Fills,
		lots:   cfg.Lots,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg.Metrics)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(m *metrics.Metrics) {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/fills", s.handleFills)
		r.Get("/lots", s.handleLots)
		r.Get("/matches", s.handleMatches)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.db.HealthCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "tradenotify",
	})
}

// handleFills returns recent fills, oldest first.
func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	fills, err := s.fills.List(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list fills")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list fills"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"fills": fills, "count": len(fills)})
}

// handleLots returns all cost basis lots.
func (s *Server) handleLots(w http.ResponseWriter, r *http.Request) {
	lots, err := s.lots.ListLots()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list lots")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list lots"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"lots": lots, "count": len(lots)})
}

// handleMatches returns recorded lot matches.
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	matches, err := s.lots.ListMatches(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list matches")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list matches"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches, "count": len(matches)})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return def
	}
	return limit
}
