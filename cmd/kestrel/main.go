// Kestrel - Risk evaluation for live-session gifting economies.
// Copyright (c) 2026 streamgift
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamgift/kestrel/internal/api"
	"github.com/streamgift/kestrel/internal/bus"
	"github.com/streamgift/kestrel/internal/cache"
	"github.com/streamgift/kestrel/internal/domain"
	"github.com/streamgift/kestrel/internal/evaluator"
	"github.com/streamgift/kestrel/internal/metrics"
	"github.com/streamgift/kestrel/internal/reviewer"
	"github.com/streamgift/kestrel/internal/rules"
	"github.com/streamgift/kestrel/internal/store"
	"github.com/streamgift/kestrel/internal/velocity"
	"github.com/streamgift/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	st, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

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

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(st)
	slog.Info("velocity service initialized")

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromDatabase(ctx, st, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Metrics
	m := metrics.New()

	// Initialize Evaluator and Reviewer
	eval := evaluator.New(st, velocitySvc, engine, busImpl, cacheImpl, m, cfg.Risk)
	rev := reviewer.New(st, busImpl, cacheImpl, m, cfg.Risk)
	slog.Info("risk engines initialized")

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.New(busImpl, st, rev, cfg.Worker)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start worker", "error", err)
		} else {
			slog.Info("worker started", "sweep_interval", cfg.Worker.SweepInterval)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, st, cacheImpl, busImpl, eval, rev, engine, m, Version)

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

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides layers selected environment settings over the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if port := os.Getenv("KESTREL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if path := os.Getenv("KESTREL_SQLITE_PATH"); path != "" {
		cfg.Store.SQLitePath = path
	}
	if host := os.Getenv("KESTREL_POSTGRES_HOST"); host != "" {
		cfg.Store.PostgresHost = host
	}
	if user := os.Getenv("KESTREL_POSTGRES_USER"); user != "" {
		cfg.Store.PostgresUser = user
	}
	if pass := os.Getenv("KESTREL_POSTGRES_PASSWORD"); pass != "" {
		cfg.Store.PostgresPassword = pass
	}
	if db := os.Getenv("KESTREL_POSTGRES_DB"); db != "" {
		cfg.Store.PostgresDB = db
	}
	if addr := os.Getenv("KESTREL_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if url := os.Getenv("KESTREL_NATS_URL"); url != "" {
		cfg.EventBus.NATSUrl = url
	}
}

// loadRulesFromDatabase loads operator rules from the database into the
// engine. Rules are configured via POST /rules - there are no hardcoded
// supplemental rules; the built-in pattern rules always run.
func loadRulesFromDatabase(ctx context.Context, st domain.Store, engine *rules.Engine) error {
	dbRules, err := st.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no supplemental rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║     Gifting Risk Evaluation Engine        ║")
	fmt.Println("  ║      Every tip, weighed in flight.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate              - Evaluate a candidate tip")
	fmt.Println("    GET  /transactions/{id}     - Get transaction by ID")
	fmt.Println("    GET  /users/{id}/risk       - Get a user's risk state")
	fmt.Println("    POST /sessions/{id}/review  - Review a session")
	fmt.Println("    GET  /sessions/{id}/stats   - Get session stats")
	fmt.Println("    GET  /rules                 - List supplemental rules")
	fmt.Println("    POST /rules                 - Create a supplemental rule")
	fmt.Println("    POST /rules/reload          - Hot-reload rules from database")
	fmt.Println("    GET  /metrics               - Prometheus metrics")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
