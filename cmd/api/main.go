package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixforge/pixforge/internal/account"
	"github.com/pixforge/pixforge/internal/cache"
	"github.com/pixforge/pixforge/internal/config"
	"github.com/pixforge/pixforge/internal/credential"
	"github.com/pixforge/pixforge/internal/database"
	"github.com/pixforge/pixforge/internal/generation"
	"github.com/pixforge/pixforge/internal/logging"
	"github.com/pixforge/pixforge/internal/monitoring"
	"github.com/pixforge/pixforge/internal/prompt"
	"github.com/pixforge/pixforge/internal/provider"
	"github.com/pixforge/pixforge/internal/quota"
	"github.com/pixforge/pixforge/internal/server"
	"github.com/pixforge/pixforge/internal/storage"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Msg("Starting PixForge API server")

	// Initialize database connection
	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Redis is optional: without it per-subject rate limiting is disabled
	var redis *cache.Redis
	if cfg.Redis.URL != "" {
		redis, err = cache.New(cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, rate limiting disabled")
			redis = nil
		} else {
			defer redis.Close()
		}
	}

	// Initialize Prometheus metrics
	monitoring.Init()

	// Start metrics server if enabled
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	// Durable image storage is optional: without it records store images inline
	var store generation.ImageStore
	if cfg.Storage.Enabled {
		uploader, err := storage.New(context.Background(), &cfg.Storage)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize image storage")
		}
		store = uploader
	}

	// Wire the core services
	accounts := account.NewService(db.Pool)
	credentials := credential.NewService(db.Pool, &cfg.Encryption, &cfg.Provider)
	ledger, err := quota.NewLedger(db.Pool, &cfg.Quota)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize quota ledger")
	}
	generations := generation.NewService(
		db.Pool,
		accounts,
		credentials,
		ledger,
		prompt.NewComposer(),
		provider.NewClient(&cfg.Provider),
		store,
	)

	// Daily quota reset runs in-process
	scheduler := quota.NewScheduler(ledger, time.Hour)
	if err := scheduler.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start quota reset scheduler")
	}
	defer scheduler.Stop()

	// Create and start server
	srv := server.NewAPIServer(cfg, db, redis, accounts, credentials, ledger, generations)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
