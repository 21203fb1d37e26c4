// Package verify implements the verification protocol: settle the page's
// asynchronous load, assert the dependent container is visible, then check
// that the theme toggle flips the root element's token.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dev/bravebird/ipview-verify/pkg/browser"
	"dev/bravebird/ipview-verify/pkg/models"
)

const captureTimeout = 10 * time.Second

// Evidence captures a labeled screenshot of the page for a phase.
type Evidence interface {
	Capture(ctx context.Context, phase models.Phase, name string) error
}

// Probe runs protocol steps against one page.
type Probe struct {
	Page     browser.Page
	Evidence Evidence // may be nil
	Logger   *slog.Logger
}

func (p *Probe) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// capture takes a best-effort screenshot and returns its name, or "" when it
// could not be written. A failed capture never changes a verdict.
func (p *Probe) capture(ctx context.Context, phase models.Phase, name string) string {
	if p.Evidence == nil {
		return ""
	}
	cctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	if err := p.Evidence.Capture(cctx, phase, name); err != nil {
		p.logger().Warn("failed to capture screenshot", "phase", phase, "artifact", name, "error", err)
		return ""
	}
	return name
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// interrupted wraps a parent-context error. Cancellation is never reported as
// an assertion failure.
func interrupted(phase models.Phase, err error) *Error {
	msg := "run cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "run deadline exceeded"
	}
	return harnessError(phase, err, "%s", msg)
}

// ScreenshotEvidence screenshots Page and hands the image to save.
type ScreenshotEvidence struct {
	Page browser.Page
	Save func(ctx context.Context, phase models.Phase, name string, png []byte) error
}

func (e *ScreenshotEvidence) Capture(ctx context.Context, phase models.Phase, name string) error {
	png, err := e.Page.Screenshot(ctx)
	if err != nil {
		return err
	}
	return e.Save(ctx, phase, name, png)
}
