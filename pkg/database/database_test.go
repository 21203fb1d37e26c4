package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/ipview-verify/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func finishedRun(id string, started time.Time) *models.RunResult {
	completed := started.Add(1500 * time.Millisecond)
	return &models.RunResult{
		ID:          id,
		TargetURL:   "http://localhost:8000",
		Driver:      "rod",
		Status:      models.StatusSuccess,
		SettledText: "203.0.113.5",
		ToggleState: models.ToggleVerified,
		Phases: []models.PhaseResult{
			{Phase: models.PhaseSettle, Status: models.StatusSuccess, Artifact: models.ArtifactSettled, DurationMs: 800},
		},
		Artifacts: []models.Artifact{
			{Name: models.ArtifactSettled, Phase: models.PhaseSettle, Path: "verification/settled.png", CapturedAt: started.Add(time.Second)},
			{Name: models.ArtifactTogglePost, Phase: models.PhaseToggle, Path: "verification/toggle_post.png", CapturedAt: started.Add(1400 * time.Millisecond)},
		},
		Console:     []models.ConsoleMessage{{Level: "log", Text: "map initialised", Timestamp: started}},
		StartedAt:   started,
		CompletedAt: &completed,
		DurationMs:  1500,
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "dsn")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Migrate(context.Background()))
}

func TestGetRunMissing(t *testing.T) {
	db := openTestDB(t)

	run, err := db.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestCreateRunThenComplete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	pending := &models.RunResult{ID: "run-1", TargetURL: "http://localhost:8000", Driver: "rod", StartedAt: started}
	require.NoError(t, db.CreateRun(ctx, pending))
	assert.Equal(t, models.StatusPending, pending.Status)

	require.NoError(t, db.UpdateRunStatus(ctx, "run-1", models.StatusRunning))
	got, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Artifacts)

	require.NoError(t, db.SaveResult(ctx, finishedRun("run-1", started)))

	got, err = db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, "203.0.113.5", got.SettledText)
	assert.Len(t, got.Phases, 1)
	require.Len(t, got.Console, 1)
	assert.Equal(t, "map initialised", got.Console[0].Text)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(started.Add(1500*time.Millisecond)))

	artifacts, err := db.ListArtifacts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, models.ArtifactSettled, artifacts[0].Name)
	assert.Equal(t, models.PhaseToggle, artifacts[1].Phase)
}

func TestSaveResultInsertsUnknownRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	failed := finishedRun("cli-run", time.Now().UTC())
	failed.Status = models.StatusFailed
	failed.Phase = models.PhaseSettle
	failed.Kind = "async_settle_timeout"
	failed.Message = `still "Loading..." after 20000ms`

	require.NoError(t, db.SaveResult(ctx, failed))

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusFailed, runs[0].Status)
	assert.Equal(t, models.PhaseSettle, runs[0].Phase)
	assert.Equal(t, failed.Message, runs[0].Message)
}

func TestSaveResultReplacesArtifacts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	run := finishedRun("run-2", time.Now().UTC())

	require.NoError(t, db.SaveResult(ctx, run))
	run.Artifacts = run.Artifacts[:1]
	require.NoError(t, db.SaveResult(ctx, run))

	artifacts, err := db.ListArtifacts(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.SaveResult(ctx, finishedRun(id, base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := db.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Empty(t, runs[0].Phases, "listing carries summary columns only")
}
