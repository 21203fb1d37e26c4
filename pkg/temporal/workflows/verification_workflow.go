package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/models"
	"dev/bravebird/ipview-verify/pkg/verify"
)

const (
	// TaskQueue is the default task queue served by cmd/worker
	TaskQueue = "ipview-verify"

	// ProgressQuery returns the run result known to the workflow so far
	ProgressQuery = "getProgress"

	RunVerificationActivityName = "RunVerificationActivity"
	SaveResultActivityName      = "SaveResultActivity"
)

// HeartbeatTimeout bounds the silence allowed from a running verification
const HeartbeatTimeout = 30 * time.Second

// VerificationInput is the input of VerificationWorkflow
type VerificationInput struct {
	RunID  string        `json:"run_id"`
	Config config.Config `json:"config"`
}

// WorkflowID is the Temporal workflow ID of a run
func WorkflowID(runID string) string {
	return "ipview-verify-" + runID
}

// VerificationWorkflow runs one verification and stores its result. A failed
// verification is a normal outcome: the workflow completes with the failed
// result rather than returning an error.
func VerificationWorkflow(ctx workflow.Context, input VerificationInput) (models.RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting verification workflow", "runID", input.RunID, "targetURL", input.Config.TargetURL)

	result := models.RunResult{
		ID:          input.RunID,
		TargetURL:   input.Config.TargetURL,
		Driver:      input.Config.Browser.Driver,
		Status:      models.StatusRunning,
		ToggleState: models.ToggleInit,
		StartedAt:   workflow.Now(ctx),
	}

	// Register query handler for real-time progress
	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.RunResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	// A browser run is not idempotent: never retried
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout(input.Config),
		HeartbeatTimeout:    HeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var verdict models.RunResult
	err = workflow.ExecuteActivity(runCtx, RunVerificationActivityName, input).Get(runCtx, &verdict)
	if err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.HasDetails() && appErr.Details(&verdict) == nil {
			logger.Warn("Verification failed", "runID", input.RunID, "kind", appErr.Type(), "phase", verdict.Phase)
		} else {
			logger.Error("Verification activity did not report a verdict", "runID", input.RunID, "error", err)
			verdict = result
			now := workflow.Now(ctx)
			verdict.Status = models.StatusFailed
			verdict.Kind = string(verify.KindHarness)
			verdict.Message = err.Error()
			verdict.CompletedAt = &now
			verdict.DurationMs = now.Sub(result.StartedAt).Milliseconds()
		}
	}
	result = verdict

	saveCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})
	if err := workflow.ExecuteActivity(saveCtx, SaveResultActivityName, result).Get(saveCtx, nil); err != nil {
		logger.Error("Failed to save verification result", "runID", input.RunID, "error", err)
	}

	logger.Info("Workflow completed", "status", result.Status, "duration", result.DurationMs)
	return result, nil
}

// activityTimeout covers browser launch, the settle bound and the fixed
// transition sleeps with a margin for screenshots.
func activityTimeout(cfg config.Config) time.Duration {
	return cfg.LaunchTimeout() + cfg.Timeout() + 2*cfg.TransitionSettle() + 6*cfg.ActionTimeout() + cfg.StructureGrace() + time.Minute
}
