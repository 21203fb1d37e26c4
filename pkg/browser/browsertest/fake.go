// Package browsertest provides a scripted in-memory page for exercising code
// that drives a browser.Page without launching a browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"dev/bravebird/ipview-verify/pkg/browser"
)

// ErrClosed is returned by every page method after Close.
var ErrClosed = errors.New("browsertest: page closed")

// PNG is the screenshot payload returned by fake pages.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Element describes how the page answers queries for one selector.
type Element struct {
	// Texts are returned by successive Text calls; the last one repeats.
	Texts []string
	Attrs map[string]string
	// Hidden elements exist but are not rendered.
	Hidden bool
	// Matches is how many nodes the selector matches (1 when zero).
	Matches int
	// AppearAfter makes the first N Count calls report no match.
	AppearAfter int
	// OnClick runs while the page lock is NOT held, so it may call page setters.
	OnClick func(p *Page)
}

// Page is a fake browser.Page. The zero value is not usable; use NewPage.
type Page struct {
	mu       sync.Mutex
	elements map[string]*Element
	reads    map[string]int
	counts   map[string]int
	failures map[string]error
	calls    []string
	closed   bool
	console  *browser.ConsoleSink

	// OnNavigate runs after a successful Navigate.
	OnNavigate func(p *Page)
}

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{
		elements: make(map[string]*Element),
		reads:    make(map[string]int),
		counts:   make(map[string]int),
		failures: make(map[string]error),
	}
}

// Set registers el under selector, replacing any previous element.
func (p *Page) Set(selector string, el *Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el.Attrs == nil {
		el.Attrs = make(map[string]string)
	}
	p.elements[selector] = el
	return p
}

// Remove drops selector from the page.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

// SetText makes every following Text call for selector return text.
func (p *Page) SetText(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[selector]; ok {
		el.Texts = []string{text}
		p.reads[selector] = 0
	}
}

// SetAttr sets an attribute on selector's element.
func (p *Page) SetAttr(selector, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[selector]; ok {
		el.Attrs[name] = value
	}
}

// RemoveAttr unsets an attribute on selector's element.
func (p *Page) RemoveAttr(selector, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[selector]; ok {
		delete(el.Attrs, name)
	}
}

// Attr returns an attribute value as the page currently holds it.
func (p *Page) Attr(selector, name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok {
		return "", false
	}
	v, ok := el.Attrs[name]
	return v, ok
}

// FailOn makes method (e.g. "Navigate", "Screenshot") return err.
func (p *Page) FailOn(method string, err error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = err
	return p
}

// Log emits a console message as if the page had called console.<level>.
func (p *Page) Log(level, text string) {
	p.mu.Lock()
	sink := p.console
	p.mu.Unlock()
	if sink != nil {
		sink.Record(level, text)
	}
}

// Calls returns the method log, e.g. "Click #theme-toggle".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many logged calls start with prefix.
func (p *Page) CallCount(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close marks the page closed. It is the session's close function.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// enter logs the call and returns the element for selector, if any.
func (p *Page) enter(ctx context.Context, method, selector string) (*Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.calls = append(p.calls, strings.TrimSpace(method+" "+selector))
	if p.closed {
		return nil, ErrClosed
	}
	if err := p.failures[method]; err != nil {
		return nil, err
	}
	return p.elements[selector], nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	_, err := p.enter(ctx, "Navigate", url)
	hook := p.OnNavigate
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.enter(ctx, "Count", selector)
	if err != nil || el == nil {
		return 0, err
	}
	p.counts[selector]++
	if p.counts[selector] <= el.AppearAfter {
		return 0, nil
	}
	if el.Matches == 0 {
		return 1, nil
	}
	return el.Matches, nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.enter(ctx, "Text", selector)
	if err != nil {
		return "", err
	}
	if el == nil {
		return "", fmt.Errorf("%w: %s", browser.ErrNoElement, selector)
	}
	if len(el.Texts) == 0 {
		return "", nil
	}
	i := p.reads[selector]
	p.reads[selector]++
	if i >= len(el.Texts) {
		i = len(el.Texts) - 1
	}
	return el.Texts[i], nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.enter(ctx, "Attribute", selector)
	if err != nil {
		return "", false, err
	}
	if el == nil {
		return "", false, fmt.Errorf("%w: %s", browser.ErrNoElement, selector)
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.enter(ctx, "Visible", selector)
	if err != nil {
		return false, err
	}
	if el == nil {
		return false, fmt.Errorf("%w: %s", browser.ErrNoElement, selector)
	}
	return !el.Hidden, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	el, err := p.enter(ctx, "Click", selector)
	if err == nil && el == nil {
		err = fmt.Errorf("%w: %s", browser.ErrNoElement, selector)
	}
	var onClick func(*Page)
	if el != nil {
		onClick = el.OnClick
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if onClick != nil {
		onClick(p)
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.enter(ctx, "Screenshot", ""); err != nil {
		return nil, err
	}
	return append([]byte(nil), PNG...), nil
}

// Launcher returns a browser.LaunchFunc that hands out page. The session's
// console sink is attached to page so Log reaches it.
func Launcher(page *Page) browser.LaunchFunc {
	return func(ctx context.Context, opts browser.Options) (*browser.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sink := browser.NewConsoleSink(opts.ConsoleBuffer, opts.OnConsole)
		page.mu.Lock()
		page.console = sink
		page.mu.Unlock()
		return browser.NewSession("fake", page, sink, page.Close), nil
	}
}

// FailingLauncher returns a browser.LaunchFunc that always fails with err.
func FailingLauncher(err error) browser.LaunchFunc {
	return func(ctx context.Context, opts browser.Options) (*browser.Session, error) {
		return nil, err
	}
}
