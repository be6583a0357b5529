// Package api serves the zone watcher's HTTP surface: zone membership
// reads, forced reconciliation, the transition journal, a live event
// stream, and an occupancy chart.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/version"
	"github.com/banshee-data/occupancy.report/internal/zone"
	"github.com/banshee-data/occupancy.report/internal/zonedb"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// ServerConfig carries the server's collaborators. Registry is
// required; the journal and chart endpoints answer 503 when DB is nil.
type ServerConfig struct {
	Registry   *zone.Registry
	DB         *zonedb.DB
	Clock      timeutil.Clock // defaults to real time
	ListenAddr string         // defaults to ":8080"
	Logger     *log.Logger    // defaults to the standard logger
}

// Server is the zone watcher HTTP server.
type Server struct {
	registry *zone.Registry
	db       *zonedb.DB
	clock    timeutil.Clock
	logger   *log.Logger
	server   *http.Server
}

// NewServer builds a Server and mounts all routes, including the
// database admin routes when a DB is configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("api: registry is required")
	}

	s := &Server{
		registry: cfg.Registry,
		db:       cfg.DB,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	mux := s.setupRoutes()
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("api: %w", err)
		}
	}

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.logRequests(mux),
	}

	return s, nil
}

// Handler returns the fully assembled handler, useful under httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures the HTTP routes and handlers
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/zones", s.handleZones)
	mux.HandleFunc("/api/zone/members", s.handleZoneMembers)
	mux.HandleFunc("/api/zone/summary", s.handleZoneSummary)
	mux.HandleFunc("/api/zone/reconcile", s.handleReconcile)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/stream", s.handleEventsStream)
	mux.HandleFunc("/api/charts/occupancy", s.handleOccupancyChart)

	return mux
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully, forcing the close if draining takes more than 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting HTTP server on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Printf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			s.logger.Printf("HTTP server force close error: %v", err)
		}
	}

	s.logger.Printf("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "zonewatch",
		"version":   version.String(),
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so the SSE stream keeps working behind the
// logging wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// logRequests logs method, path, status, and duration of each request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.logger.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
