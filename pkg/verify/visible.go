package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dev/bravebird/ipview-verify/pkg/browser"
	"dev/bravebird/ipview-verify/pkg/models"
)

const graceInterval = 100 * time.Millisecond

// AssertVisible checks that selector is present with a non-zero rendered area.
// With grace 0 the check runs once; otherwise it is repeated until grace elapses.
func (p *Probe) AssertVisible(ctx context.Context, selector string, grace time.Duration) error {
	if selector == "" {
		return harnessError(models.PhaseStructure, nil, "structure selector is empty")
	}

	deadline := time.Now().Add(grace)
	for {
		reason, err := p.checkVisible(ctx, selector)
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(models.PhaseStructure, ctx.Err())
			}
			return err
		}
		if reason == "" {
			p.capture(ctx, models.PhaseStructure, models.ArtifactStructure)
			return nil
		}
		if !time.Now().Before(deadline) {
			artifact := p.capture(ctx, models.PhaseStructure, models.ArtifactStructureFail)
			return &Error{
				Kind:     KindStructure,
				Phase:    models.PhaseStructure,
				Message:  fmt.Sprintf("%s is %s", selector, reason),
				Artifact: artifact,
			}
		}
		if err := sleep(ctx, min(graceInterval, time.Until(deadline))); err != nil {
			return interrupted(models.PhaseStructure, err)
		}
	}
}

// checkVisible returns "" when selector is visible, otherwise why it is not.
func (p *Probe) checkVisible(ctx context.Context, selector string) (string, error) {
	n, err := p.Page.Count(ctx, selector)
	if err != nil {
		return "", harnessError(models.PhaseStructure, err, "failed to query %s", selector)
	}
	if n == 0 {
		return "absent", nil
	}
	visible, err := p.Page.Visible(ctx, selector)
	if errors.Is(err, browser.ErrNoElement) {
		return "absent", nil
	}
	if err != nil {
		return "", harnessError(models.PhaseStructure, err, "failed to check visibility of %s", selector)
	}
	if !visible {
		return "not visible", nil
	}
	return "", nil
}
