package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/ipview-verify/pkg/models"
)

var started = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func passedResult() *models.RunResult {
	done := started.Add(1234 * time.Millisecond)
	return &models.RunResult{
		ID:          "run-1",
		TargetURL:   "http://localhost:8000",
		Driver:      "rod",
		Status:      models.StatusSuccess,
		SettledText: "203.0.113.5",
		ToggleState: models.ToggleVerified,
		Baseline:    &models.ObservedState{Selector: "html", Attribute: "class", Token: "dark", Raw: "h-full dark", Present: true, HasToken: true},
		Post:        &models.ObservedState{Selector: "html", Attribute: "class", Token: "dark", Raw: "h-full", Present: true},
		Phases: []models.PhaseResult{
			{Phase: models.PhaseBootstrap, Status: models.StatusSuccess, DurationMs: 210},
			{Phase: models.PhaseSettle, Status: models.StatusSuccess, DurationMs: 850},
			{Phase: models.PhaseStructure, Status: models.StatusSuccess, DurationMs: 3},
			{Phase: models.PhaseToggle, Status: models.StatusSuccess, DurationMs: 512},
		},
		Artifacts: []models.Artifact{
			{Name: "settled", Phase: models.PhaseSettle, Path: "verification/settled.png"},
			{Name: "structure", Phase: models.PhaseStructure, Path: "verification/structure.png"},
			{Name: "toggle_baseline", Phase: models.PhaseToggle, Path: "verification/toggle_baseline.png"},
			{Name: "toggle_post", Phase: models.PhaseToggle, Path: "verification/toggle_post.png"},
		},
		Console: []models.ConsoleMessage{
			{Level: "log", Text: "map ready"},
			{Level: "error", Text: "Failed to load tile"},
		},
		StartedAt:   started,
		CompletedAt: &done,
		DurationMs:  1234,
	}
}

func timeoutResult() *models.RunResult {
	done := started.Add(20410 * time.Millisecond)
	msg := `async_settle_timeout: #ip-address still "Loading..." after 20s: context deadline exceeded`
	return &models.RunResult{
		ID:          "run-b",
		TargetURL:   "http://localhost:8000",
		Driver:      "rod",
		Status:      models.StatusFailed,
		Phase:       models.PhaseSettle,
		Kind:        "async_settle_timeout",
		Message:     msg,
		ToggleState: models.ToggleInit,
		Phases: []models.PhaseResult{
			{Phase: models.PhaseBootstrap, Status: models.StatusSuccess, DurationMs: 200},
			{Phase: models.PhaseSettle, Status: models.StatusFailed, Message: msg, Artifact: "debug_timeout", DurationMs: 20005},
			{Phase: models.PhaseStructure, Status: models.StatusSkipped},
			{Phase: models.PhaseToggle, Status: models.StatusSkipped},
		},
		Artifacts: []models.Artifact{
			{Name: "debug_timeout", Phase: models.PhaseSettle, Path: "verification/debug_timeout.png", CapturedAt: started.Add(20 * time.Second)},
		},
		StartedAt:   started,
		CompletedAt: &done,
		DurationMs:  20410,
	}
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWriteTextGolden(t *testing.T) {
	tests := []struct {
		name string
		res  *models.RunResult
	}{
		{"success_text", passedResult()},
		{"timeout_text", timeoutResult()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteText(&buf, tt.res))
			golden(t).Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestWriteJSONGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, timeoutResult()))
	golden(t).Assert(t, "timeout_json", buf.Bytes())

	var back models.RunResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "async_settle_timeout", back.Kind)
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, "yaml", passedResult())
	assert.ErrorContains(t, err, `unknown report format "yaml"`)
}

func TestWriteTextConsoleWithoutErrors(t *testing.T) {
	res := passedResult()
	res.Console = res.Console[:1]

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, res))
	assert.Contains(t, buf.String(), "Console: 1 message(s), no errors")
}
