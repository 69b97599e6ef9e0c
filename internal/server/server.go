// Package server provides the HTTP server and routing for Custodian.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/config"
	"github.com/aristath/custodian/internal/database"
	"github.com/aristath/custodian/internal/modules/artifacts"
	artifactshandlers "github.com/aristath/custodian/internal/modules/artifacts/handlers"
	"github.com/aristath/custodian/internal/modules/harvesting"
	harvestinghandlers "github.com/aristath/custodian/internal/modules/harvesting/handlers"
	"github.com/aristath/custodian/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/custodian/internal/modules/ledger/handlers"
	"github.com/aristath/custodian/internal/modules/lots"
	lotshandlers "github.com/aristath/custodian/internal/modules/lots/handlers"
	"github.com/aristath/custodian/internal/modules/revision"
	revisionhandlers "github.com/aristath/custodian/internal/modules/revision/handlers"
	"github.com/aristath/custodian/internal/modules/washsale"
	washsalehandlers "github.com/aristath/custodian/internal/modules/washsale/handlers"
	"github.com/aristath/custodian/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	LedgerDB    *database.DB
	ArtifactsDB *database.DB
	CacheDB     *database.DB
	Config      *config.Config
	Port        int
	DevMode     bool

	Ledger     *ledger.Service
	Lots       *lots.Service
	WashSale   *washsale.Service
	Harvesting *harvesting.Service
	Revision   *revision.Service
	Recorder   *artifacts.Recorder

	// MarketData backs evaluations whose caller does not inline the series;
	// Optimizer backs weight proposals. Both optional.
	MarketData revisionhandlers.DataSource
	Optimizer  revisionhandlers.WeightProposer

	// Scheduler and jobs back the manual trigger endpoints. All optional.
	Scheduler *scheduler.Scheduler
	Jobs      []scheduler.Job
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
		systemHandlers: NewSystemHandlers(
			cfg.Log,
			cfg.Config,
			cfg.LedgerDB,
			cfg.ArtifactsDB,
			cfg.CacheDB,
			cfg.Scheduler,
			cfg.Jobs,
		),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		ledgerhandlers.NewHandler(s.cfg.Ledger, s.log).RegisterRoutes(r)
		lotshandlers.NewHandler(s.cfg.Lots, s.log).RegisterRoutes(r)
		washsalehandlers.NewHandler(s.cfg.WashSale, s.log).RegisterRoutes(r)
		harvestinghandlers.NewHandler(s.cfg.Harvesting, s.log).RegisterRoutes(r)
		revisionhandlers.NewHandler(s.cfg.Revision, s.cfg.MarketData, s.cfg.Optimizer, s.log).RegisterRoutes(r)
		artifactshandlers.NewHandler(s.cfg.Recorder, s.log).RegisterRoutes(r)

		s.systemHandlers.RegisterRoutes(r)
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "custodian",
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the configured router, used by tests to serve requests
// without binding a port.
func (s *Server) Router() chi.Router {
	return s.router
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
