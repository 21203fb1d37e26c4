package verify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"dev/bravebird/ipview-verify/pkg/browser"
	"dev/bravebird/ipview-verify/pkg/models"
)

// DefaultPollInterval is used when SettleSpec.Interval is zero.
const DefaultPollInterval = 100 * time.Millisecond

// SettleSpec describes the asynchronous load to wait out.
type SettleSpec struct {
	URL      string
	Selector string
	Sentinel string
	Timeout  time.Duration
	Interval time.Duration
	// ErrorValues are settled texts that mean the page gave up, e.g. "Error".
	ErrorValues []string
}

// Condition returns the wait condition Settle polls for.
func (s SettleSpec) Condition() models.WaitCondition {
	return models.WaitCondition{
		Selector:  s.Selector,
		Predicate: models.PredicateTextDiffers,
		Value:     s.Sentinel,
		Timeout:   s.Timeout,
		Interval:  s.Interval,
	}
}

// Settle navigates to spec.URL once and polls spec.Selector until its text
// differs from the sentinel, returning the settled text.
//
// If the deadline passes first, a debug_timeout screenshot is written, the
// still-pending text is logged and an *Error of KindTimeout is returned that
// wraps context.DeadlineExceeded.
func (p *Probe) Settle(ctx context.Context, spec SettleSpec) (string, error) {
	if spec.Timeout <= 0 {
		return "", harnessError(models.PhaseSettle, nil, "settle timeout must be positive, got %s", spec.Timeout)
	}
	if spec.Selector == "" {
		return "", harnessError(models.PhaseSettle, nil, "settle selector is empty")
	}
	interval := spec.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if interval > spec.Timeout {
		interval = spec.Timeout
	}

	settleCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	log := p.logger().With("phase", models.PhaseSettle, "selector", spec.Selector)

	if err := p.Page.Navigate(settleCtx, spec.URL); err != nil {
		if ctx.Err() != nil {
			return "", interrupted(models.PhaseSettle, ctx.Err())
		}
		if settleCtx.Err() != nil {
			return "", p.settleTimeout(ctx, spec, settleCtx.Err())
		}
		return "", &Error{
			Kind:    KindBootstrap,
			Phase:   models.PhaseSettle,
			Message: fmt.Sprintf("target page %s unreachable", spec.URL),
			Err:     err,
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sentinel := strings.TrimSpace(spec.Sentinel)
	for attempt := 1; ; attempt++ {
		text, settled, err := p.readSettle(settleCtx, spec.Selector, sentinel)
		if err != nil && settleCtx.Err() == nil {
			return "", err
		}
		if err == nil && settled {
			log.Debug("settled", "attempts", attempt, "text", text)
			return p.settled(ctx, spec, text)
		}

		select {
		case <-settleCtx.Done():
			if ctx.Err() != nil {
				return "", interrupted(models.PhaseSettle, ctx.Err())
			}
			return "", p.settleTimeout(ctx, spec, settleCtx.Err())
		case <-ticker.C:
		}
	}
}

// readSettle reports whether selector holds text other than sentinel. No match
// means the element is not rendered yet; more than one is a selector error.
func (p *Probe) readSettle(ctx context.Context, selector, sentinel string) (string, bool, error) {
	n, err := p.Page.Count(ctx, selector)
	if err != nil {
		return "", false, harnessError(models.PhaseSettle, err, "failed to query %s", selector)
	}
	switch {
	case n == 0:
		return "", false, nil
	case n > 1:
		return "", false, harnessError(models.PhaseSettle, nil, "selector %s is ambiguous: %d matches", selector, n)
	}

	text, err := p.Page.Text(ctx, selector)
	if errors.Is(err, browser.ErrNoElement) {
		return "", false, nil
	}
	if err != nil {
		return "", false, harnessError(models.PhaseSettle, err, "failed to read %s", selector)
	}
	text = strings.TrimSpace(text)
	return text, text != sentinel, nil
}

func (p *Probe) settled(ctx context.Context, spec SettleSpec, text string) (string, error) {
	if slices.Contains(spec.ErrorValues, text) {
		artifact := p.capture(ctx, models.PhaseSettle, models.ArtifactSettleError)
		p.logger().Warn("page reported a load error", "selector", spec.Selector, "text", text)
		return text, &Error{
			Kind:     KindRejected,
			Phase:    models.PhaseSettle,
			Message:  fmt.Sprintf("%s settled to error value %q", spec.Selector, text),
			Artifact: artifact,
		}
	}
	p.capture(ctx, models.PhaseSettle, models.ArtifactSettled)
	return text, nil
}

// settleTimeout writes the timeout diagnostics and wraps cause unchanged.
func (p *Probe) settleTimeout(ctx context.Context, spec SettleSpec, cause error) error {
	artifact := p.capture(ctx, models.PhaseSettle, models.ArtifactTimeout)

	last := "<absent>"
	rctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	if text, err := p.Page.Text(rctx, spec.Selector); err == nil {
		last = strings.TrimSpace(text)
	}

	p.logger().Error("timed out waiting for page to settle",
		"selector", spec.Selector,
		"sentinel", spec.Sentinel,
		"last_text", last,
		"timeout", spec.Timeout,
		"artifact", artifact,
	)

	return &Error{
		Kind:     KindTimeout,
		Phase:    models.PhaseSettle,
		Message:  fmt.Sprintf("%s still %q after %s", spec.Selector, last, spec.Timeout),
		Artifact: artifact,
		Err:      cause,
	}
}
