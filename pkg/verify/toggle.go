package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dev/bravebird/ipview-verify/pkg/browser"
	"dev/bravebird/ipview-verify/pkg/models"
)

// ToggleSpec describes one toggle verification.
type ToggleSpec struct {
	RootSelector   string
	Attribute      string // defaults to "class"
	Token          string
	ToggleSelector string
	// Settle is the page's declared transition duration, slept after the click.
	Settle time.Duration
	// ActionTimeout bounds each root read and the click; zero means 10s.
	ActionTimeout time.Duration

	Phase models.Phase // PhaseToggle unless set
	// Screenshot names; empty skips the capture.
	BaselineArtifact string
	PostArtifact     string
}

// ToggleResult is the outcome of VerifyToggle. Baseline and Post are nil until read.
type ToggleResult struct {
	State    models.ToggleState
	Baseline *models.ObservedState
	Post     *models.ObservedState
}

const defaultActionTimeout = 10 * time.Second

var toggleOrder = map[models.ToggleState]int{
	models.ToggleInit:         0,
	models.ToggleBaselineRead: 1,
	models.ToggleActionTaken:  2,
	models.ToggleSettled:      3,
	models.ToggleVerified:     4,
}

// ErrBadTransition is returned for a state change the toggle machine forbids.
var ErrBadTransition = errors.New("invalid toggle state transition")

// advance moves the machine forward one step, or to FAILED from any state
// past INIT. Terminal states never change.
func advance(from, to models.ToggleState) error {
	if from == models.ToggleVerified || from == models.ToggleFailed {
		return fmt.Errorf("%w: %s is terminal", ErrBadTransition, from)
	}
	if to == models.ToggleFailed {
		if from == models.ToggleInit {
			return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
		}
		return nil
	}
	next, ok := toggleOrder[to]
	if !ok || next != toggleOrder[from]+1 {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}
	return nil
}

type toggleRun struct {
	res   ToggleResult
	phase models.Phase
}

// to panics on a forbidden transition; the step order is fixed in VerifyToggle.
func (t *toggleRun) to(state models.ToggleState) {
	if err := advance(t.res.State, state); err != nil {
		panic(err)
	}
	t.res.State = state
}

// fail moves to FAILED when a baseline has been read. Before that nothing was
// observed, so the machine stays in INIT.
func (t *toggleRun) fail() {
	if t.res.State != models.ToggleInit {
		t.to(models.ToggleFailed)
	}
}

// VerifyToggle reads the root element's token, clicks the toggle once, waits
// spec.Settle and asserts the token flipped. The expected state is always
// derived from the observed baseline, never assumed.
func (p *Probe) VerifyToggle(ctx context.Context, spec ToggleSpec) (ToggleResult, error) {
	if spec.Attribute == "" {
		spec.Attribute = "class"
	}
	if spec.ActionTimeout == 0 {
		spec.ActionTimeout = defaultActionTimeout
	}
	t := &toggleRun{res: ToggleResult{State: models.ToggleInit}, phase: spec.Phase}
	if t.phase == "" {
		t.phase = models.PhaseToggle
	}

	switch {
	case spec.RootSelector == "" || spec.ToggleSelector == "":
		return t.res, harnessError(t.phase, nil, "toggle selectors must not be empty")
	case !validToken(spec.Token):
		return t.res, harnessError(t.phase, nil, "token %q must be a single non-empty token", spec.Token)
	case spec.Settle < 0:
		return t.res, harnessError(t.phase, nil, "transition settle must not be negative, got %s", spec.Settle)
	case spec.ActionTimeout < 0:
		return t.res, harnessError(t.phase, nil, "action timeout must be positive, got %s", spec.ActionTimeout)
	}

	log := p.logger().With("phase", t.phase, "root", spec.RootSelector, "token", spec.Token)

	// 1. Baseline, before anything can mutate it
	baseline, err := p.observe(ctx, spec)
	if err != nil {
		return t.res, p.toggleError(ctx, t, err)
	}
	t.res.Baseline = &baseline
	t.to(models.ToggleBaselineRead)
	log.Debug("baseline read", "raw", baseline.Raw, "has_token", baseline.HasToken)
	if spec.BaselineArtifact != "" {
		p.capture(ctx, t.phase, spec.BaselineArtifact)
	}

	// 2. One activation
	timedOut, err := bounded(ctx, spec.ActionTimeout, func(actx context.Context) error {
		return p.Page.Click(actx, spec.ToggleSelector)
	})
	if err != nil {
		if timedOut {
			log.Error("toggle click did not complete", "selector", spec.ToggleSelector, "timeout", spec.ActionTimeout)
			return t.res, p.toggleError(ctx, t, &Error{
				Kind:    KindToggle,
				Message: fmt.Sprintf("click on %s did not complete within %s", spec.ToggleSelector, spec.ActionTimeout),
				Err:     err,
			})
		}
		if errors.Is(err, browser.ErrNoElement) {
			t.fail()
			artifact := p.capture(ctx, t.phase, models.ArtifactToggleFail)
			return t.res, &Error{
				Kind:     KindToggle,
				Phase:    t.phase,
				Message:  fmt.Sprintf("toggle control %s not found", spec.ToggleSelector),
				Artifact: artifact,
				Err:      err,
			}
		}
		return t.res, p.toggleError(ctx, t, harnessError(t.phase, err, "failed to click %s", spec.ToggleSelector))
	}
	t.to(models.ToggleActionTaken)

	// 3. Fixed wait for the transition
	if err := sleep(ctx, spec.Settle); err != nil {
		return t.res, p.toggleError(ctx, t, err)
	}
	t.to(models.ToggleSettled)

	// 4. Post-condition
	post, err := p.observe(ctx, spec)
	if err != nil {
		return t.res, p.toggleError(ctx, t, err)
	}
	t.res.Post = &post

	if post.HasToken == baseline.HasToken {
		t.to(models.ToggleFailed)
		artifact := p.capture(ctx, t.phase, models.ArtifactToggleFail)
		log.Error("toggle did not flip", "before", baseline.Raw, "after", post.Raw, "settle", spec.Settle)
		return t.res, &Error{
			Kind:  KindToggle,
			Phase: t.phase,
			Message: fmt.Sprintf("%s %s: expected %s=%t after %s, still %t (%q -> %q)",
				spec.RootSelector, spec.Attribute, spec.Token, !baseline.HasToken,
				spec.Settle, post.HasToken, baseline.Raw, post.Raw),
			Artifact: artifact,
		}
	}

	t.to(models.ToggleVerified)
	log.Debug("toggle verified", "before", baseline.HasToken, "after", post.HasToken)
	if spec.PostArtifact != "" {
		p.capture(ctx, t.phase, spec.PostArtifact)
	}
	return t.res, nil
}

// observe reads the token state of the root element.
func (p *Probe) observe(ctx context.Context, spec ToggleSpec) (models.ObservedState, error) {
	var raw string
	var present bool
	timedOut, err := bounded(ctx, spec.ActionTimeout, func(actx context.Context) error {
		var err error
		raw, present, err = p.Page.Attribute(actx, spec.RootSelector, spec.Attribute)
		return err
	})
	if err != nil {
		if timedOut {
			return models.ObservedState{}, &Error{
				Kind:    KindToggle,
				Message: fmt.Sprintf("reading %s[%s] did not complete within %s", spec.RootSelector, spec.Attribute, spec.ActionTimeout),
				Err:     err,
			}
		}
		if errors.Is(err, browser.ErrNoElement) {
			return models.ObservedState{}, harnessError("", err, "root element %s not found", spec.RootSelector)
		}
		return models.ObservedState{}, harnessError("", err, "failed to read %s[%s]", spec.RootSelector, spec.Attribute)
	}
	return models.ObservedState{
		Selector:   spec.RootSelector,
		Attribute:  spec.Attribute,
		Token:      spec.Token,
		Raw:        raw,
		Present:    present,
		HasToken:   present && HasToken(raw, spec.Token),
		ObservedAt: time.Now(),
	}, nil
}

// toggleError finalises the machine for a failure other than a wrong
// post-condition. A timed-out action gets the debug_toggle capture.
func (p *Probe) toggleError(ctx context.Context, t *toggleRun, err error) error {
	t.fail()
	if ctx.Err() != nil {
		return interrupted(t.phase, ctx.Err())
	}
	var ve *Error
	if errors.As(err, &ve) {
		if ve.Phase == "" {
			ve.Phase = t.phase
		}
		if ve.Kind == KindToggle && ve.Artifact == "" {
			ve.Artifact = p.capture(ctx, t.phase, models.ArtifactToggleFail)
		}
	}
	return err
}

// bounded runs fn under its own timeout d. timedOut is true when fn failed
// because d elapsed while ctx was still live.
func bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) (timedOut bool, err error) {
	actx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err = fn(actx)
	return err != nil && ctx.Err() == nil && actx.Err() != nil, err
}
