package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/browser"
	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/models"
)

// Runner executes the full protocol for one configuration. A Runner may be
// used for several runs, each getting its own browser session.
type Runner struct {
	cfg     config.Config
	store   artifacts.Store
	launch  browser.LaunchFunc
	logger  *slog.Logger
	onEvent func(models.RunEvent)
}

// Option configures a Runner
type Option func(*Runner)

// WithLauncher replaces browser.Launch, e.g. with a scripted page in tests.
func WithLauncher(l browser.LaunchFunc) Option {
	return func(r *Runner) { r.launch = l }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithEventHandler receives phase, console and result events as they happen.
// Console events arrive on the driver's goroutine, so fn must be safe for
// concurrent use and must not block.
func WithEventHandler(fn func(models.RunEvent)) Option {
	return func(r *Runner) { r.onEvent = fn }
}

// NewRunner creates a runner. store may be nil, in which case nothing is written.
func NewRunner(cfg config.Config, store artifacts.Store, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		store:  store,
		launch: browser.Launch,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a run with a fresh ID.
func (r *Runner) Run(ctx context.Context) (*models.RunResult, error) {
	return r.RunWithID(ctx, uuid.New().String())
}

// RunWithID executes bootstrap, settle, structure and toggle (plus the optional
// round trip) in order, stopping at the first failure. The returned result is
// never nil; the error is nil only when every phase passed.
func (r *Runner) RunWithID(ctx context.Context, id string) (*models.RunResult, error) {
	cfg := r.cfg
	res := &models.RunResult{
		ID:          id,
		TargetURL:   cfg.TargetURL,
		Driver:      cfg.Browser.Driver,
		Status:      models.StatusRunning,
		ToggleState: models.ToggleInit,
		Phases:      []models.PhaseResult{},
		Artifacts:   []models.Artifact{},
		StartedAt:   time.Now(),
	}
	log := r.logger.With("run_id", id)
	log.Info("starting verification run", "target_url", cfg.TargetURL, "driver", cfg.Browser.Driver)

	if err := cfg.Validate(); err != nil {
		verr := harnessError(models.PhaseBootstrap, err, "invalid configuration")
		r.skipFrom(res, models.PhaseBootstrap)
		return r.finish(ctx, log, res, nil, verr)
	}

	// Phase 1: bootstrap
	var sess *browser.Session
	err := r.phase(ctx, res, models.PhaseBootstrap, func() error {
		var err error
		sess, err = r.launch(ctx, browser.Options{
			Driver:         cfg.Browser.Driver,
			Headless:       cfg.Browser.Headless,
			ChromeBin:      cfg.Browser.ChromeBin,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			ConsoleBuffer:  cfg.Browser.ConsoleBuffer,
			LaunchTimeout:  cfg.LaunchTimeout(),
			OnConsole:      r.consoleForwarder(log, id),
		})
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(models.PhaseBootstrap, ctx.Err())
			}
			return &Error{Kind: KindBootstrap, Phase: models.PhaseBootstrap, Message: "browser session could not be created", Err: err}
		}
		return nil
	})
	if err != nil {
		r.skipFrom(res, models.PhaseSettle)
		return r.finish(ctx, log, res, nil, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("failed to close browser session", "error", err)
		}
	}()

	probe := &Probe{
		Page:     sess.Page,
		Evidence: r.evidence(sess.Page, res),
		Logger:   log,
	}

	// Phase 2: navigation and async settle
	spec := SettleSpec{
		URL:         cfg.TargetURL,
		Selector:    cfg.Settle.Selector,
		Sentinel:    cfg.Settle.Sentinel,
		Timeout:     cfg.Timeout(),
		Interval:    cfg.PollInterval(),
		ErrorValues: cfg.Settle.ErrorValues,
	}
	err = r.phase(ctx, res, models.PhaseSettle, func() error {
		cond := spec.Condition()
		log.Debug("waiting for condition", "selector", cond.Selector, "predicate", cond.Predicate, "value", cond.Value, "timeout", cond.Timeout)
		text, err := probe.Settle(ctx, spec)
		res.SettledText = text
		return err
	})
	if err != nil {
		r.skipFrom(res, models.PhaseStructure)
		return r.finish(ctx, log, res, sess, err)
	}

	// Phase 3: structural assertion
	err = r.phase(ctx, res, models.PhaseStructure, func() error {
		return probe.AssertVisible(ctx, cfg.Structure.Selector, cfg.StructureGrace())
	})
	if err != nil {
		r.skipFrom(res, models.PhaseToggle)
		return r.finish(ctx, log, res, sess, err)
	}

	// Phase 4: toggle
	toggle := ToggleSpec{
		RootSelector:     cfg.Toggle.RootSelector,
		Attribute:        cfg.Toggle.Attribute,
		Token:            cfg.Toggle.Token,
		ToggleSelector:   cfg.Toggle.ToggleSelector,
		Settle:           cfg.TransitionSettle(),
		ActionTimeout:    cfg.ActionTimeout(),
		Phase:            models.PhaseToggle,
		BaselineArtifact: models.ArtifactToggleBaseline,
		PostArtifact:     models.ArtifactTogglePost,
	}
	err = r.phase(ctx, res, models.PhaseToggle, func() error {
		tr, err := probe.VerifyToggle(ctx, toggle)
		res.ToggleState, res.Baseline, res.Post = tr.State, tr.Baseline, tr.Post
		return err
	})
	if err != nil {
		r.skipFrom(res, models.PhaseRoundTrip)
		return r.finish(ctx, log, res, sess, err)
	}

	// Phase 5: optional round trip back to the baseline
	if cfg.Toggle.RoundTrip {
		toggle.Phase = models.PhaseRoundTrip
		toggle.BaselineArtifact = ""
		toggle.PostArtifact = models.ArtifactRoundTrip
		err = r.phase(ctx, res, models.PhaseRoundTrip, func() error {
			tr, err := probe.VerifyToggle(ctx, toggle)
			res.RoundTripState = tr.State
			return err
		})
	}

	return r.finish(ctx, log, res, sess, err)
}

// phase runs fn as one protocol phase and records its outcome.
func (r *Runner) phase(ctx context.Context, res *models.RunResult, phase models.Phase, fn func() error) error {
	r.emit(models.RunEvent{RunID: res.ID, Type: models.EventPhase, Phase: phase, Status: models.StatusRunning})

	start := time.Now()
	err := fn()
	pr := models.PhaseResult{
		Phase:      phase,
		Status:     models.StatusSuccess,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		pr.Status = models.StatusFailed
		pr.Message = err.Error()
		var ve *Error
		if errors.As(err, &ve) {
			pr.Artifact = ve.Artifact
		}
	}
	res.AddPhase(pr)
	r.emit(models.RunEvent{RunID: res.ID, Type: models.EventPhase, Phase: phase, Status: pr.Status, Message: pr.Message})
	return err
}

var phaseOrder = []models.Phase{
	models.PhaseBootstrap,
	models.PhaseSettle,
	models.PhaseStructure,
	models.PhaseToggle,
	models.PhaseRoundTrip,
}

// skipFrom records every phase from first on as skipped.
func (r *Runner) skipFrom(res *models.RunResult, first models.Phase) {
	skipping := false
	for _, p := range phaseOrder {
		if p == first {
			skipping = true
		}
		if !skipping || (p == models.PhaseRoundTrip && !r.cfg.Toggle.RoundTrip) {
			continue
		}
		res.AddPhase(models.PhaseResult{Phase: p, Status: models.StatusSkipped})
	}
}

// finish completes res from err, writes result.json and emits the result event.
func (r *Runner) finish(ctx context.Context, log *slog.Logger, res *models.RunResult, sess *browser.Session, err error) (*models.RunResult, error) {
	now := time.Now()
	res.CompletedAt = &now
	res.DurationMs = now.Sub(res.StartedAt).Milliseconds()
	if sess != nil {
		res.Console = sess.Console.Messages()
	}

	if err == nil {
		res.Status = models.StatusSuccess
		log.Info("verification passed", "settled_text", res.SettledText, "toggle_state", res.ToggleState, "duration_ms", res.DurationMs)
	} else {
		var ve *Error
		if !errors.As(err, &ve) {
			ve = harnessError("", err, "unexpected failure")
			err = ve
		}
		res.Status = models.StatusFailed
		res.Phase = ve.Phase
		res.Kind = string(ve.Kind)
		res.Message = ve.Error()
		log.Error("verification failed", "phase", ve.Phase, "kind", ve.Kind, "artifact", ve.Artifact, "error", err)
	}

	r.writeResult(ctx, log, res)
	r.emit(models.RunEvent{RunID: res.ID, Type: models.EventResult, Status: res.Status, Message: res.Message, Result: res})
	return res, err
}

func (r *Runner) writeResult(ctx context.Context, log *slog.Logger, res *models.RunResult) {
	if r.store == nil {
		return
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Warn("failed to encode result", "error", err)
		return
	}
	// The run's own context may already be cancelled; the result is still written
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()
	if _, err := r.store.WriteFile(wctx, res.ID, artifacts.ResultFile, data); err != nil {
		log.Warn("failed to write result file", "error", err)
	}
}

// evidence screenshots into the store and records each artifact on res.
func (r *Runner) evidence(page browser.Page, res *models.RunResult) Evidence {
	if r.store == nil {
		return nil
	}
	return &ScreenshotEvidence{
		Page: page,
		Save: func(ctx context.Context, phase models.Phase, name string, png []byte) error {
			a, err := r.store.Save(ctx, res.ID, phase, name, png)
			if err != nil {
				return fmt.Errorf("failed to save %s: %w", name, err)
			}
			res.AddArtifact(a)
			return nil
		},
	}
}

func (r *Runner) consoleForwarder(log *slog.Logger, id string) func(models.ConsoleMessage) {
	return func(m models.ConsoleMessage) {
		log.Debug("console", "level", m.Level, "text", m.Text)
		msg := m
		r.emit(models.RunEvent{RunID: id, Type: models.EventConsole, Console: &msg})
	}
}

func (r *Runner) emit(ev models.RunEvent) {
	if r.onEvent == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.onEvent(ev)
}
