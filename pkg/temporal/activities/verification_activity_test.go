package activities

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/browser/browsertest"
	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/models"
	"dev/bravebird/ipview-verify/pkg/temporal/workflows"
	"dev/bravebird/ipview-verify/pkg/verify"
)

type statusLog struct {
	statuses []models.RunStatus
	saved    []*models.RunResult
}

func (l *statusLog) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	l.statuses = append(l.statuses, status)
	return nil
}

func (l *statusLog) SaveResult(ctx context.Context, run *models.RunResult) error {
	l.saved = append(l.saved, run)
	return nil
}

func testInput(dir string) workflows.VerificationInput {
	cfg := config.Default()
	cfg.TargetURL = "http://ipview.test"
	cfg.TimeoutMs = 2000
	cfg.TransitionSettleMs = 10
	cfg.Settle.PollIntervalMs = 5
	cfg.Artifacts.Dir = dir
	return workflows.VerificationInput{RunID: "act-1", Config: cfg}
}

func newTestActivities(t *testing.T, page *browsertest.Page) (*Activities, *statusLog) {
	results := &statusLog{}
	acts := NewActivities(artifacts.NewLocalStore(t.TempDir(), true), results, slog.New(slog.NewTextHandler(io.Discard, nil)))
	acts.Launch = browsertest.Launcher(page)
	return acts, results
}

func TestRunVerificationActivityPasses(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	acts, results := newTestActivities(t, browsertest.IPView("198.51.100.7", 0))
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.RunVerificationActivity, testInput(t.TempDir()))
	require.NoError(t, err)

	var res models.RunResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.Equal(t, "198.51.100.7", res.SettledText)
	assert.Equal(t, []models.RunStatus{models.StatusRunning}, results.statuses)
}

func TestRunVerificationActivityFailureIsTyped(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	page := browsertest.IPView("198.51.100.7", 0).Set(browsertest.MapSelector, &browsertest.Element{Hidden: true})
	acts, _ := newTestActivities(t, page)
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.RunVerificationActivity, testInput(t.TempDir()))
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(verify.KindStructure), appErr.Type())
	assert.True(t, appErr.NonRetryable())

	var res models.RunResult
	require.NoError(t, appErr.Details(&res))
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, models.PhaseStructure, res.Phase)
}

func TestSaveResultActivity(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	acts, results := newTestActivities(t, browsertest.NewPage())
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.SaveResultActivity, models.RunResult{ID: "act-2", Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, results.saved, 1)
	assert.Equal(t, "act-2", results.saved[0].ID)
}

func TestSaveResultActivityWithoutStore(t *testing.T) {
	acts := &Activities{}
	assert.NoError(t, acts.SaveResultActivity(context.Background(), models.RunResult{ID: "x"}))
}
