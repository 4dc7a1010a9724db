// Kestrel - Fraud detection for field-data collection.
// Copyright (c) 2026 opensource.survey
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-survey/kestrel/internal/api"
	"github.com/opensource-survey/kestrel/internal/bus"
	"github.com/opensource-survey/kestrel/internal/cache"
	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/engine"
	"github.com/opensource-survey/kestrel/internal/heuristics"
	"github.com/opensource-survey/kestrel/internal/repository"
	"github.com/opensource-survey/kestrel/internal/thresholds"
	"github.com/opensource-survey/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"timezone", cfg.Registry.TimezoneName,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Seed the default threshold catalogue on first boot
	seeded, err := repository.SeedDefaultThresholds(ctx, repo)
	if err != nil {
		slog.Error("failed to seed thresholds", "error", err)
		os.Exit(1)
	}
	if seeded > 0 {
		slog.Info("default thresholds seeded", "count", seeded)
	}

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Threshold Store
	store := thresholds.New(repo, cacheImpl, cfg.Registry.ThresholdCacheTTL, logger)
	slog.Info("threshold store initialized", "cache_ttl", cfg.Registry.ThresholdCacheTTL)

	// Initialize Fraud Engine with the fixed heuristic registry
	registry := heuristics.Registry(cfg.Registry.Location())
	fraudEngine := engine.New(repo, store, registry, logger)
	slog.Info("fraud engine initialized", "heuristics", len(registry))

	// Initialize async Worker consuming ingested submissions
	asyncWorker := worker.New(busImpl, repo, fraudEngine, logger)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}
	slog.Info("worker started")

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, store, asyncWorker, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight evaluations drain
	asyncWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides adjusts the tier defaults from the environment.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║        Fraud Detection Engine             ║")
	fmt.Println("  ║     Eyes on every submission.             ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/submissions                 - Ingest a submission (async evaluation)")
	fmt.Println("    POST /api/v1/submissions/{id}/evaluate   - Evaluate synchronously")
	fmt.Println("    GET  /api/v1/submissions/{id}            - Get submission by ID")
	fmt.Println("    GET  /api/v1/submissions/{id}/detection  - Get detection for a submission")
	fmt.Println("    GET  /api/v1/detections/{id}             - Get detection by ID")
	fmt.Println("    POST /api/v1/forms                       - Register a questionnaire form")
	fmt.Println("    GET  /api/v1/forms/{id}                  - Get a questionnaire form")
	fmt.Println("    GET  /api/v1/thresholds                  - List thresholds by category")
	fmt.Println("    PUT  /api/v1/thresholds/{ruleKey}        - Update a threshold (new version)")
	fmt.Println("    GET  /health                             - Health check")
	fmt.Println()
}
