// FinSentinel - Live fraud scoring feed for financial transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opensource-finance/finsentinel/internal/api"
	"github.com/opensource-finance/finsentinel/internal/bus"
	"github.com/opensource-finance/finsentinel/internal/cache"
	"github.com/opensource-finance/finsentinel/internal/config"
	"github.com/opensource-finance/finsentinel/internal/domain"
	"github.com/opensource-finance/finsentinel/internal/feed"
	"github.com/opensource-finance/finsentinel/internal/generator"
	"github.com/opensource-finance/finsentinel/internal/repository"
	"github.com/opensource-finance/finsentinel/internal/results"
	"github.com/opensource-finance/finsentinel/internal/rules"
	"github.com/opensource-finance/finsentinel/internal/scoring"
	"github.com/opensource-finance/finsentinel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting finsentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"scoring_url", cfg.Scoring.URL(),
		"payload_format", cfg.Scoring.PayloadFormat,
		"feed_interval", cfg.Feed.Interval,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize session storage
	sessions, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Alert rules and the archive worker
	engine, err := rules.NewEngine(rules.DefaultRules())
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	archiver := worker.NewWorker(busImpl, repo, engine)
	if err := archiver.Start(); err != nil {
		slog.Error("failed to start archive worker", "error", err)
		os.Exit(1)
	}

	// Feed pipeline
	gen := generator.New()
	scorer := scoring.NewClient(cfg.Scoring)
	store := results.NewMemoryStore()
	sink := results.Fanout{store, results.NewPublisher(busImpl)}
	controller := feed.NewController(cfg.Feed, gen, scorer, sink)

	handler := api.NewHandler(api.Dependencies{
		Feed:           controller,
		Generator:      gen,
		Scorer:         scorer,
		Store:          store,
		Sink:           sink,
		Repo:           repo,
		Sessions:       sessions,
		Bus:            busImpl,
		SessionTTL:     cfg.Auth.SessionTTL,
		DefaultSource:  domain.Source(cfg.Feed.DefaultSource),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        Version,
	})
	srv := api.NewServer(cfg.Server, cfg.RateLimit, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("finsentinel is ready", "addr", srv.Addr())
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
	}

	// Stop producing before draining consumers.
	controller.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Let the archive worker finish results already on the bus.
	if err := busImpl.Close(); err != nil {
		slog.Error("failed to close event bus", "error", err)
	}
	if err := archiver.Stop(); err != nil {
		slog.Error("failed to stop archive worker", "error", err)
	}

	stats := archiver.GetStats()
	slog.Info("finsentinel shutdown complete",
		"archived", stats.Processed,
		"alerts", stats.Alerts,
		"archive_failures", stats.Failures,
	)
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              FINSENTINEL                  ║")
	fmt.Println("  ║      Live Transaction Fraud Scoring       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Scoring:  %s\n", cfg.Scoring.URL())
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /auth/login                      - Demo admin login")
	fmt.Println("    POST /api/automated-feed/start        - Start the live feed")
	fmt.Println("    POST /api/automated-feed/stop         - Stop the live feed")
	fmt.Println("    GET  /api/automated-feed/status       - Feed state and history")
	fmt.Println("    POST /api/generate-mock-transaction   - Score one synthetic record")
	fmt.Println("    POST /api/detect-fraud                - Score a manual record")
	fmt.Println("    GET  /api/results                     - Scored results (admin)")
	fmt.Println("    GET  /api/results/stream              - Live results websocket (admin)")
	fmt.Println("    GET  /api/alerts                      - Rule matches (admin)")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
