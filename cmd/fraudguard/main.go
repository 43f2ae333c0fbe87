// FraudGuard - Batch fraud detection workflows.
// Copyright (c) 2025 fraudguard.io
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

	"github.com/fraudguard-io/fraudguard/internal/api"
	"github.com/fraudguard-io/fraudguard/internal/bus"
	"github.com/fraudguard-io/fraudguard/internal/cache"
	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/intel"
	"github.com/fraudguard-io/fraudguard/internal/repository"
	"github.com/fraudguard-io/fraudguard/internal/scoring"
	"github.com/fraudguard-io/fraudguard/internal/similarity"
	"github.com/fraudguard-io/fraudguard/internal/stats"
	"github.com/fraudguard-io/fraudguard/internal/worker"
	"github.com/fraudguard-io/fraudguard/internal/workflow"
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
	if os.Getenv("FRAUDGUARD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting fraudguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("FRAUDGUARD_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if os.Getenv("FRAUDGUARD_ASYNC_STAGES") == "true" {
		cfg.AsyncStages = true
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_stages", cfg.AsyncStages,
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

	// Initialize Scoring Engine
	var initial *domain.ScoringConfig
	if cfg.Scoring.Expression != "" {
		initial = &domain.ScoringConfig{
			ID:         "configured",
			Name:       "Configured expression",
			Expression: cfg.Scoring.Expression,
			Enabled:    true,
		}
	}
	engine, err := scoring.NewEngine(initial)
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}

	// Load the persisted scoring expression, if one was saved via PUT /scoring
	if err := loadScoringFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load scoring config", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring engine initialized", "expression_id", engine.Current().ID)

	// Initialize pipeline stages
	detector := scoring.NewDetector(engine, cfg.Scoring.MaxWorkers)
	intelEngine := intel.NewEngine(cfg.Intel)
	searcher := similarity.NewSearcher(similarity.NewCosineMatcher(cfg.Similarity.MatchThreshold))

	// Initialize Workflow Service
	wf := workflow.New(repo, detector, intelEngine, searcher, busImpl, cacheImpl, cfg.Intel)
	slog.Info("workflow service initialized")

	// Initialize Stats Service
	statsSvc := stats.NewService(repo, cacheImpl, time.Duration(cfg.Intel.CacheTTLSeconds)*time.Second)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.AsyncStages {
		asyncWorker = worker.NewWorker(busImpl, wf)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
		slog.Info("async stage worker started")
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, wf, statsSvc, engine, repo, cacheImpl, Version, cfg.AsyncStages)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudguard shutdown complete")
}

// loadScoringFromDatabase activates the enabled persisted expression, if any.
// The built-in default blend stays active otherwise.
func loadScoringFromDatabase(ctx context.Context, repo domain.Repository, engine *scoring.Engine) error {
	configs, err := repo.ListScoringConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list scoring configs from database", "error", err)
		return nil // Start with the default expression - configure via PUT /scoring
	}

	for _, cfg := range configs {
		if cfg.Enabled {
			slog.Info("loading scoring expression from database", "id", cfg.ID, "name", cfg.Name)
			return engine.Reload(cfg)
		}
	}

	slog.Info("no scoring expression in database - using built-in default")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║             🛡 FRAUDGUARD                  ║")
	fmt.Println("  ║      Batch Fraud Detection Engine         ║")
	fmt.Println("  ║     Every record, every signal.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /batches                     - Create a batch from JSON records")
	fmt.Println("    POST /batches/import              - Create a batch from a CSV upload")
	fmt.Println("    GET  /batches                     - List all batches")
	fmt.Println("    GET  /batches/{id}                - Get batch by ID")
	fmt.Println("    POST /batches/{id}/steps/{step}   - Run pipeline step 1, 2 or 3")
	fmt.Println("    GET  /batches/{id}/assessments    - Per-customer assessments")
	fmt.Println("    GET  /batches/{id}/groups         - City/pincode risk groups")
	fmt.Println("    GET  /batches/{id}/export         - Export assessments as CSV")
	fmt.Println("    GET  /stats                       - Cross-batch dashboard")
	fmt.Println("    GET  /scoring                     - Active scoring expression")
	fmt.Println("    PUT  /scoring                     - Update scoring expression")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
