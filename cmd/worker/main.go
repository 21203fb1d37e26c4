package main

import (
	"context"
	"log/slog"
	"os"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/database"
	"dev/bravebird/ipview-verify/pkg/temporal/activities"
	"dev/bravebird/ipview-verify/pkg/temporal/workflows"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if os.Getenv("LOG_FORMAT") == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("VERIFY_CONFIG"))
	if err != nil {
		fatal(logger, "Failed to load config", err)
	}
	cfg.Artifacts.PerRun = true

	temporalHost := cfg.Temporal.HostPort
	if temporalHost == "" {
		temporalHost = client.DefaultHostPort
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  temporalHost,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		fatal(logger, "Failed to create Temporal client", err)
	}
	defer c.Close()

	ctx := context.Background()

	store, err := artifacts.New(ctx, cfg.Artifacts, logger)
	if err != nil {
		fatal(logger, "Failed to set up artifact storage", err)
	}

	// Results are optional on the worker; without a database the API
	// reads verdicts back through the workflow query.
	var results activities.ResultStore
	if cfg.Database.DSN != "" {
		db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			fatal(logger, "Failed to connect to database", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			fatal(logger, "Failed to migrate database", err)
		}
		results = db
	} else {
		logger.Warn("No database configured, results are kept in workflow history only")
	}

	// Create activities
	acts := activities.NewActivities(store, results, logger)

	// Each activity drives one browser, so activity slots bound browser count
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.API.MaxConcurrentRuns,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.VerificationWorkflow)
	w.RegisterActivity(acts)

	logger.Info("Starting Temporal worker",
		"task_queue", cfg.Temporal.TaskQueue,
		"host", temporalHost,
		"max_concurrent_runs", cfg.API.MaxConcurrentRuns)

	if err := w.Run(worker.InterruptCh()); err != nil {
		fatal(logger, "Worker failed", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
