package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.temporal.io/sdk/client"

	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/browser"
	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/models"
	"dev/bravebird/ipview-verify/pkg/temporal/workflows"
	"dev/bravebird/ipview-verify/pkg/verify"
)

var (
	// ErrBusy is returned when every run slot is taken
	ErrBusy = errors.New("too many runs in flight")

	// ErrShuttingDown is returned once the executor has been stopped
	ErrShuttingDown = errors.New("executor is shutting down")
)

// RunStore persists runs. *database.DB implements it.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.RunResult) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error
	SaveResult(ctx context.Context, run *models.RunResult) error
	GetRun(ctx context.Context, id string) (*models.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunResult, error)
}

// Executor starts a run in the background. Start returns once the run has
// been recorded as pending.
type Executor interface {
	Start(ctx context.Context, runID string, cfg config.Config) error
}

// ProgressReporter is implemented by executors that can report on a run
// more recently than the store.
type ProgressReporter interface {
	Progress(ctx context.Context, runID string) (*models.RunResult, error)
}

func pendingRun(runID string, cfg config.Config) *models.RunResult {
	return &models.RunResult{
		ID:          runID,
		TargetURL:   cfg.TargetURL,
		Driver:      cfg.Browser.Driver,
		Status:      models.StatusPending,
		ToggleState: models.ToggleInit,
		StartedAt:   time.Now(),
	}
}

// ==================== Local Executor ====================

// LocalExecutor runs verifications in goroutines of the API process, at
// most maxConcurrent at a time, streaming events through the hub.
type LocalExecutor struct {
	Launch browser.LaunchFunc // Defaults to browser.Launch

	runs   RunStore
	store  artifacts.Store
	hub    *Hub
	logger *slog.Logger
	slots  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalExecutor creates an executor with maxConcurrent run slots
func NewLocalExecutor(runs RunStore, store artifacts.Store, hub *Hub, maxConcurrent int, logger *slog.Logger) *LocalExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalExecutor{
		runs:   runs,
		store:  store,
		hub:    hub,
		logger: logger,
		slots:  make(chan struct{}, maxConcurrent),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start claims a slot, records the run and executes it in the background
func (e *LocalExecutor) Start(ctx context.Context, runID string, cfg config.Config) error {
	if e.ctx.Err() != nil {
		return ErrShuttingDown
	}

	select {
	case e.slots <- struct{}{}:
	default:
		return ErrBusy
	}

	if err := e.runs.CreateRun(ctx, pendingRun(runID, cfg)); err != nil {
		<-e.slots
		return err
	}

	e.wg.Add(1)
	go e.execute(runID, cfg)
	return nil
}

func (e *LocalExecutor) execute(runID string, cfg config.Config) {
	defer e.wg.Done()
	defer func() { <-e.slots }()

	log := e.logger.With("run_id", runID)
	if err := e.runs.UpdateRunStatus(e.ctx, runID, models.StatusRunning); err != nil {
		log.Warn("failed to mark run as running", "error", err)
	}

	// The result event is held back until the result is stored, so a
	// client reacting to it reads the final row.
	var final *models.RunEvent
	opts := []verify.Option{
		verify.WithLogger(e.logger),
		verify.WithEventHandler(func(ev models.RunEvent) {
			if ev.Type == models.EventResult {
				final = &ev
				return
			}
			e.hub.Publish(ev)
		}),
	}
	if e.Launch != nil {
		opts = append(opts, verify.WithLauncher(e.Launch))
	}

	res, _ := verify.NewRunner(cfg, e.store, opts...).RunWithID(e.ctx, runID)

	if err := e.runs.SaveResult(context.WithoutCancel(e.ctx), res); err != nil {
		log.Error("failed to save run result", "error", err)
	}
	if final != nil {
		e.hub.Publish(*final)
	}
}

// Shutdown cancels in-flight runs and waits for them to record their results
func (e *LocalExecutor) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain runs: %w", ctx.Err())
	}
}

// ==================== Temporal Executor ====================

// TemporalExecutor hands runs to cmd/worker through a Temporal workflow.
// Concurrency is bounded by the worker's activity slots.
type TemporalExecutor struct {
	Client    client.Client
	TaskQueue string
	Runs      RunStore
}

// Start records the run and starts its workflow
func (e *TemporalExecutor) Start(ctx context.Context, runID string, cfg config.Config) error {
	run := pendingRun(runID, cfg)
	if err := e.Runs.CreateRun(ctx, run); err != nil {
		return err
	}

	options := client.StartWorkflowOptions{
		ID:        workflows.WorkflowID(runID),
		TaskQueue: e.TaskQueue,
	}
	input := workflows.VerificationInput{RunID: runID, Config: cfg}

	if _, err := e.Client.ExecuteWorkflow(ctx, options, workflows.VerificationWorkflow, input); err != nil {
		now := time.Now()
		run.Status = models.StatusFailed
		run.Kind = string(verify.KindHarness)
		run.Message = "failed to start workflow: " + err.Error()
		run.CompletedAt = &now
		_ = e.Runs.SaveResult(context.WithoutCancel(ctx), run)
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	return nil
}

// Progress queries the workflow for its current view of the run
func (e *TemporalExecutor) Progress(ctx context.Context, runID string) (*models.RunResult, error) {
	resp, err := e.Client.QueryWorkflow(ctx, workflows.WorkflowID(runID), "", workflows.ProgressQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}
	var res models.RunResult
	if err := resp.Get(&res); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &res, nil
}
