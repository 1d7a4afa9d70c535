// Package gateway implements the Read Gateway (C8): composing listings,
// enrichment, rent estimates, and underwriting results into a public HTTP
// API, and forwarding on-demand underwrite requests to C6. No business
// logic resides here (spec.md §4.8). Grounded on aristath-sentinel's
// internal/server/server.go (chi router, middleware chain, Config/New
// constructor shape) generalized from its 7-database DI container to this
// repository's per-module repository set.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/propyield/platform/internal/clock"
	"github.com/propyield/platform/internal/eventbus"
	"github.com/propyield/platform/internal/modules/alerts"
	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/propyield/platform/internal/modules/rentestimate"
	"github.com/propyield/platform/internal/modules/underwriting"
	"github.com/rs/zerolog"
)

// Config holds the Read Gateway's construction-time dependencies.
type Config struct {
	Log          zerolog.Logger
	Port         int
	Listings     *listings.Repository
	Enrichment   *enrichment.Repository
	RentEstimate *rentestimate.Repository
	Underwriting *underwriting.Repository
	Engine       *underwriting.Engine
	Assumptions  *underwriting.AssumptionsStore
	Alerts       *alerts.Repository
	DeadLetters  map[string]*eventbus.DeadLetterStore
	Clock        clock.Clock
	EnableCache  bool
	CacheTTL     time.Duration
}

// Server is the Read Gateway's HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	listings     *listings.Repository
	enrichment   *enrichment.Repository
	rentEstimate *rentestimate.Repository
	underwriting *underwriting.Repository
	engine       *underwriting.Engine
	assumptions  *underwriting.AssumptionsStore
	alerts       *alerts.Repository
	deadLetters  map[string]*eventbus.DeadLetterStore
	clock        clock.Clock

	cache       *ResponseCache
	enableCache bool
}

// New constructs a Server with its routes wired.
func New(cfg Config) *Server {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "gateway").Logger(),
		listings:     cfg.Listings,
		enrichment:   cfg.Enrichment,
		rentEstimate: cfg.RentEstimate,
		underwriting: cfg.Underwriting,
		engine:       cfg.Engine,
		assumptions:  cfg.Assumptions,
		alerts:       cfg.Alerts,
		deadLetters:  cfg.DeadLetters,
		clock:        c,
		cache:        NewResponseCache(ttl, c),
		enableCache:  cfg.EnableCache,
	}

	s.setupMiddleware()
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

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(15 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", s.clock.Now().Sub(start)).
			Msg("request handled")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/properties", s.handleSearchProperties)
		r.Get("/properties/{id}", s.handlePropertyDetail)
		r.Post("/underwrite", s.handleUnderwriteOnDemand)
		r.Get("/underwrite/grid", s.handleUnderwriteGrid)

		r.Post("/searches", s.handleCreateSearch)
		r.Get("/searches/{id}", s.handleGetSearch)
		r.Put("/searches/{id}", s.handleUpdateSearch)
		r.Delete("/searches/{id}", s.handleDeleteSearch)

		r.Get("/alerts", s.handleListAlerts)

		r.Get("/admin/deadletters", s.handleDeadLetters)
	})
}

// Start begins serving and blocks until the listener fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("gateway listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
