package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"dev/bravebird/ipview-verify/pkg/api"
	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/database"
)

func main() {
	logger := newLogger()
	slog.SetDefault(logger)
	logger.Info("Starting verification API server")

	cfg, err := config.Load(os.Getenv("VERIFY_CONFIG"))
	if err != nil {
		fatal(logger, "Failed to load config", err)
	}
	cfg.Artifacts.PerRun = true
	if err := cfg.Validate(); err != nil {
		fatal(logger, "Invalid config", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Warn("Failed to connect to database, keeping runs in memory", "error", err)
		if db, err = openDatabase(ctx, config.DatabaseConfig{Driver: database.DriverSQLite, DSN: ":memory:"}); err != nil {
			fatal(logger, "Failed to open in-memory database", err)
		}
	}
	defer db.Close()

	// Initialize artifact storage
	store, err := artifacts.New(ctx, cfg.Artifacts, logger)
	if err != nil {
		fatal(logger, "Failed to set up artifact storage", err)
	}
	files, ok := store.(artifacts.Fetcher)
	if !ok {
		fatal(logger, "Artifact storage cannot serve files", errors.New("store does not implement Fetch"))
	}

	hub := api.NewHub()

	// Runs execute in-process unless a Temporal frontend is configured
	var executor api.Executor
	var local *api.LocalExecutor
	if cfg.Temporal.HostPort != "" {
		temporalClient, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    tlog.NewStructuredLogger(logger),
		})
		if err != nil {
			fatal(logger, "Failed to create Temporal client", err)
		}
		defer temporalClient.Close()

		executor = &api.TemporalExecutor{Client: temporalClient, TaskQueue: cfg.Temporal.TaskQueue, Runs: db}
		logger.Info("Dispatching runs to Temporal", "host", cfg.Temporal.HostPort, "task_queue", cfg.Temporal.TaskQueue)
	} else {
		local = api.NewLocalExecutor(db, store, hub, cfg.API.MaxConcurrentRuns, logger)
		executor = local
		logger.Info("Running verifications in-process", "max_concurrent", cfg.API.MaxConcurrentRuns)
	}

	handlers := api.NewHandlers(cfg, db, executor, files, hub, logger)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      handlers.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", "port", cfg.API.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "Server failed", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if local != nil {
		if err := local.Shutdown(shutdownCtx); err != nil {
			logger.Error("Runs did not finish before shutdown", "error", err)
		}
	}

	logger.Info("Server stopped")
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("no database DSN configured")
	}
	db, err := database.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newLogger logs JSON when LOG_FORMAT=json, text otherwise.
func newLogger() *slog.Logger {
	if os.Getenv("LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
