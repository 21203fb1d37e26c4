package activities

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/browser"
	"dev/bravebird/ipview-verify/pkg/models"
	"dev/bravebird/ipview-verify/pkg/temporal/workflows"
	"dev/bravebird/ipview-verify/pkg/verify"
)

// ResultStore persists run outcomes. *database.DB implements it.
type ResultStore interface {
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error
	SaveResult(ctx context.Context, run *models.RunResult) error
}

// Activities holds activity implementations
type Activities struct {
	Artifacts artifacts.Store
	Results   ResultStore        // Optional
	Launch    browser.LaunchFunc // Defaults to browser.Launch
	Logger    *slog.Logger
}

// NewActivities creates new activities
func NewActivities(store artifacts.Store, results ResultStore, logger *slog.Logger) *Activities {
	return &Activities{
		Artifacts: store,
		Results:   results,
		Logger:    logger,
	}
}

// RunVerificationActivity executes the verification protocol. A failed
// verification is returned as a non-retryable application error whose type
// is the error kind and whose details carry the full result.
func (a *Activities) RunVerificationActivity(ctx context.Context, input workflows.VerificationInput) (models.RunResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Running verification", "runID", input.RunID, "driver", input.Config.Browser.Driver)

	if a.Results != nil {
		if err := a.Results.UpdateRunStatus(ctx, input.RunID, models.StatusRunning); err != nil {
			logger.Warn("Failed to mark run as running", "runID", input.RunID, "error", err)
		}
	}

	stop := heartbeat(ctx, HeartbeatInterval)
	defer stop()

	opts := []verify.Option{
		verify.WithLogger(a.logger()),
		verify.WithEventHandler(func(ev models.RunEvent) {
			if ev.Type == models.EventPhase {
				activity.RecordHeartbeat(ctx, string(ev.Phase))
			}
		}),
	}
	if a.Launch != nil {
		opts = append(opts, verify.WithLauncher(a.Launch))
	}

	res, err := verify.NewRunner(input.Config, a.Artifacts, opts...).RunWithID(ctx, input.RunID)
	if err != nil {
		kind := verify.KindOf(err)
		if kind == "" {
			kind = verify.KindHarness
		}
		return *res, temporal.NewNonRetryableApplicationError(res.Message, string(kind), err, *res)
	}

	logger.Info("Verification passed", "runID", input.RunID, "settledText", res.SettledText)
	return *res, nil
}

// SaveResultActivity stores a finished result
func (a *Activities) SaveResultActivity(ctx context.Context, result models.RunResult) error {
	if a.Results == nil {
		return nil
	}
	activity.GetLogger(ctx).Info("Saving verification result", "runID", result.ID, "status", result.Status)
	return a.Results.SaveResult(ctx, &result)
}

// HeartbeatInterval keeps heartbeats well inside workflows.HeartbeatTimeout
// while the runner is blocked in a long settle.
var HeartbeatInterval = workflows.HeartbeatTimeout / 3

func heartbeat(ctx context.Context, every time.Duration) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, "running")
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (a *Activities) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
