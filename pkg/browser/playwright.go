package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

type playwrightPage struct {
	page playwright.Page
}

func launchPlaywright(opts Options, sink *ConsoleSink) (Page, func() error, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("playwright not available: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--no-sandbox", "--disable-gpu", "--disable-dev-shm-usage"},
	}
	if opts.ChromeBin != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ChromeBin)
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, nil, fmt.Errorf("could not launch chromium: %w", err)
	}

	closeFn := func() error {
		return errors.Join(b.Close(), pw.Stop())
	}

	w, h := viewport(opts)
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: w, Height: h},
	})
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("could not create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("could not create page: %w", err)
	}

	page.OnConsole(func(msg playwright.ConsoleMessage) {
		sink.Record(msg.Type(), msg.Text())
	})

	return &playwrightPage{page: page}, closeFn, nil
}

// timeoutMs converts the time left on ctx into a playwright timeout. Playwright
// calls are not context aware, so the deadline is the only way to bound them.
func timeoutMs(ctx context.Context) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil, nil
	}
	left := time.Until(deadline)
	if left <= 0 {
		return nil, context.DeadlineExceeded
	}
	return playwright.Float(float64(left.Milliseconds()) + 1), nil
}

// wrap reports ctx's error in place of a playwright timeout caused by it.
func wrap(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return err
	}
	_, err = p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeout,
	})
	if err := wrap(ctx, err); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return n, nil
}

// first returns a locator for the first match, failing fast when there is none
// so the locator's auto-wait never kicks in.
func (p *playwrightPage) first(ctx context.Context, selector string) (playwright.Locator, error) {
	n, err := p.Count(ctx, selector)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return p.page.Locator(selector).First(), nil
}

func (p *playwrightPage) Text(ctx context.Context, selector string) (string, error) {
	loc, err := p.first(ctx, selector)
	if err != nil {
		return "", err
	}
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return "", err
	}
	text, err := loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: timeout})
	if err := wrap(ctx, err); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", selector, err)
	}
	return text, nil
}

func (p *playwrightPage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	loc, err := p.first(ctx, selector)
	if err != nil {
		return "", false, err
	}
	// GetAttribute cannot tell an absent attribute from an empty one
	v, err := loc.Evaluate(`(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`, name)
	if err := wrap(ctx, err); err != nil {
		return "", false, fmt.Errorf("failed to read %s[%s]: %w", selector, name, err)
	}
	if v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected attribute value %T for %s[%s]", v, selector, name)
	}
	return s, true, nil
}

func (p *playwrightPage) Visible(ctx context.Context, selector string) (bool, error) {
	loc, err := p.first(ctx, selector)
	if err != nil {
		return false, err
	}
	visible, err := loc.IsVisible()
	if err := wrap(ctx, err); err != nil {
		return false, fmt.Errorf("failed to check visibility of %s: %w", selector, err)
	}
	return visible, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	loc, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return err
	}
	if err := wrap(ctx, loc.Click(playwright.LocatorClickOptions{Timeout: timeout})); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Screenshot(ctx context.Context) ([]byte, error) {
	timeout, err := timeoutMs(ctx)
	if err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: timeout,
	})
	if err := wrap(ctx, err); err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}
