// Package api serves the FinSentinel HTTP API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, limits domain.RateLimitConfig, handler *Handler) *Server {
	if handler.AllowedOrigins == nil {
		handler.AllowedOrigins = cfg.AllowedOrigins
	}
	limiter := newIPRateLimiter(limits.RequestsPerSecond, limits.Burst)
	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		slog.Warn("ignoring trusted proxies", "error", err)
		trusted = nil
	}
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(RealIPMiddleware(trusted))
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", handler.Login)
		r.Post("/logout", handler.Logout)
		r.Get("/me", handler.Me)
	})

	router.Route("/api", func(r chi.Router) {
		r.Route("/automated-feed", func(r chi.Router) {
			r.Post("/start", handler.StartFeed)
			r.Post("/stop", handler.StopFeed)
			r.Get("/status", handler.FeedStatus)
			r.Get("/results", handler.FeedResults)
		})

		r.Post("/generate-mock-transaction", handler.GenerateMockTransaction)
		r.With(limiter.Middleware).Post("/detect-fraud", handler.DetectFraud)

		// Dashboard routes
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireAdmin)

			r.Get("/results", handler.ListResults)
			r.Get("/results/stats", handler.ResultStats)
			r.Get("/results/stream", handler.StreamResults)
			r.Get("/results/{id}", handler.GetResult)
			r.Get("/alerts", handler.ListAlerts)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. Open websocket streams are
// hijacked connections and are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
