// Package browser launches an isolated automation session and exposes the
// page through a small driver-neutral interface.
//
// Three backends are available: go-rod (default), chromedp and
// playwright-go. All of them attach the console sink before Launch returns,
// so nothing the page logs during navigation is missed.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dev/bravebird/ipview-verify/pkg/models"
)

// ErrUnknownDriver is returned by Launch for an unregistered driver name.
var ErrUnknownDriver = errors.New("browser: unknown driver")

// ErrNoElement is returned when a query needs an element and none matches.
var ErrNoElement = errors.New("browser: no element matches selector")

// Page is the subset of a browser page the verification protocol needs.
// Implementations do not wait for elements: every query reflects the DOM at
// the instant it runs. Waiting is the caller's job.
type Page interface {
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	// Count returns how many elements match selector.
	Count(ctx context.Context, selector string) (int, error)
	// Text returns the rendered text of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)
	// Attribute returns the value of name on the first match and whether it is set.
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	// Visible reports whether the first match is rendered with a non-zero area.
	Visible(ctx context.Context, selector string) (bool, error)
	// Click activates the first match once.
	Click(ctx context.Context, selector string) error
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Options configures a browser launch
type Options struct {
	Driver         string
	Headless       bool
	ChromeBin      string
	ViewportWidth  int
	ViewportHeight int
	ConsoleBuffer  int
	LaunchTimeout  time.Duration
	// OnConsole receives every console message after it is recorded.
	// It runs on the driver's event goroutine and must not block.
	OnConsole func(models.ConsoleMessage)
}

// Session is one browser process plus one page, owned by a single run.
type Session struct {
	Page    Page
	Console *ConsoleSink
	Driver  string

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

// NewSession wraps an already launched page. closeFn releases every resource
// behind the page and is called at most once.
func NewSession(driver string, page Page, console *ConsoleSink, closeFn func() error) *Session {
	if console == nil {
		console = NewConsoleSink(0, nil)
	}
	return &Session{
		Page:    page,
		Console: console,
		Driver:  driver,
		closeFn: closeFn,
	}
}

// Close tears the session down. It is safe to call more than once; only the
// first call reaches the browser.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// LaunchFunc starts a session. Launch is the production implementation;
// tests substitute fakes.
type LaunchFunc func(ctx context.Context, opts Options) (*Session, error)

// driverFunc starts a browser and page. It must not bind the browser's
// lifetime to any context: the session outlives the launch call.
type driverFunc func(opts Options, sink *ConsoleSink) (Page, func() error, error)

var drivers = map[string]driverFunc{
	"rod":        launchRod,
	"chromedp":   launchChromedp,
	"playwright": launchPlaywright,
}

// Launch starts a headless (unless disabled) browser with the selected driver.
// Failure is fatal for the run and is never retried here.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	name := opts.Driver
	if name == "" {
		name = "rod"
	}
	start, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}

	if opts.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.LaunchTimeout)
		defer cancel()
	}

	sink := NewConsoleSink(opts.ConsoleBuffer, opts.OnConsole)
	page, closeFn, err := within(ctx, func() (Page, func() error, error) {
		return start(opts, sink)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s browser: %w", name, err)
	}
	return NewSession(name, page, sink, closeFn), nil
}

// within runs start in the background and stops waiting once ctx is done.
// A launch that completes after that is closed so no process is leaked.
func within(ctx context.Context, start func() (Page, func() error, error)) (Page, func() error, error) {
	type launched struct {
		page    Page
		closeFn func() error
		err     error
	}
	done := make(chan launched, 1)
	go func() {
		page, closeFn, err := start()
		done <- launched{page, closeFn, err}
	}()

	select {
	case l := <-done:
		return l.page, l.closeFn, l.err
	case <-ctx.Done():
		go func() {
			if l := <-done; l.err == nil && l.closeFn != nil {
				_ = l.closeFn()
			}
		}()
		return nil, nil, ctx.Err()
	}
}

func viewport(opts Options) (int, int) {
	w, h := opts.ViewportWidth, opts.ViewportHeight
	if w <= 0 {
		w = 1280
	}
	if h <= 0 {
		h = 720
	}
	return w, h
}
