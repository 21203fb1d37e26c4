package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage adapts a go-rod page
type rodPage struct {
	page *rod.Page
}

func launchRod(opts Options, sink *ConsoleSink) (Page, func() error, error) {
	l := launcher.New().Headless(opts.Headless)

	// Use CHROME_BIN if set (Docker environment), otherwise a locally installed browser
	if opts.ChromeBin != "" {
		l = l.Bin(opts.ChromeBin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}

	// Additional Chrome flags for Docker compatibility
	l = l.Set("no-sandbox")
	l = l.Set("disable-gpu")
	l = l.Set("disable-dev-shm-usage")

	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	closeFn := func() error {
		err := b.Close()
		l.Kill()
		l.Cleanup()
		return err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("failed to create page: %w", err)
	}

	w, h := viewport(opts)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	// Subscribed before the wait loop starts, so before any navigation
	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		sink.Record(string(e.Type), rodConsoleText(e.Args))
	})()

	return &rodPage{page: page}, closeFn, nil
}

func rodConsoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case !arg.Value.Nil():
			parts = append(parts, arg.Value.Str())
		case arg.Description != "":
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for load of %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Count(ctx context.Context, selector string) (int, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return len(els), nil
}

func (p *rodPage) first(ctx context.Context, selector string) (*rod.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return els.First(), nil
}

func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	el, err := p.first(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p *rodPage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	el, err := p.first(ctx, selector)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s[%s]: %w", selector, name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (p *rodPage) Visible(ctx context.Context, selector string) (bool, error) {
	el, err := p.first(ctx, selector)
	if err != nil {
		return false, err
	}
	visible, err := el.Visible()
	if err != nil {
		return false, fmt.Errorf("failed to check visibility of %s: %w", selector, err)
	}
	if !visible {
		return false, nil
	}
	// Elements without layout have no content quads
	shape, err := el.Shape()
	if err != nil {
		return false, nil
	}
	box := shape.Box()
	return box != nil && box.Width > 0 && box.Height > 0, nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}
