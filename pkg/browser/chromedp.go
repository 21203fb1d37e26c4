package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

type chromedpPage struct {
	// tab owns the browser; it is never used directly for a query so that a
	// caller's deadline cannot tear the browser down.
	tab context.Context
}

func launchChromedp(opts Options, sink *ConsoleSink) (Page, func() error, error) {
	w, h := viewport(opts)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(w, h),
	)
	if opts.ChromeBin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromeBin))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	chromedp.ListenTarget(tab, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			sink.Record(string(e.Type), chromedpConsoleText(e.Args))
		}
	})

	// First Run on the tab context starts the browser and binds its lifetime to tab
	if err := chromedp.Run(tab, chromedp.EmulateViewport(int64(w), int64(h))); err != nil {
		tabCancel()
		allocCancel()
		return nil, nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	closeFn := func() error {
		err := chromedp.Cancel(tab)
		allocCancel()
		return err
	}
	return &chromedpPage{tab: tab}, closeFn, nil
}

func chromedpConsoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case len(arg.Value) > 0:
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
		case arg.Description != "":
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}

// run executes actions on the tab, aborting when ctx is done.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// elementResult is what the query scripts below evaluate to.
type elementResult struct {
	Found bool   `json:"found"`
	Set   bool   `json:"set"`
	Value string `json:"value"`
}

// query runs body against the first element matching selector. body sees the
// element as el and extra string arguments as a0, a1, ...
func (p *chromedpPage) query(ctx context.Context, selector, body string, extra ...string) (elementResult, error) {
	params := []string{"sel"}
	args := []string{jsString(selector)}
	for i, a := range extra {
		params = append(params, fmt.Sprintf("a%d", i))
		args = append(args, jsString(a))
	}
	script := fmt.Sprintf(`((%s) => {
		const el = document.querySelector(sel);
		if (el === null) { return {found: false, set: false, value: ""}; }
		%s
	})(%s)`, strings.Join(params, ", "), body, strings.Join(args, ", "))

	var res elementResult
	if err := p.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		return elementResult{}, fmt.Errorf("failed to evaluate query on %s: %w", selector, err)
	}
	if !res.Found {
		return res, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return res, nil
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *chromedpPage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return n, nil
}

func (p *chromedpPage) Text(ctx context.Context, selector string) (string, error) {
	res, err := p.query(ctx, selector, `return {found: true, set: true, value: el.innerText};`)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (p *chromedpPage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	res, err := p.query(ctx, selector,
		`return {found: true, set: el.hasAttribute(a0), value: el.getAttribute(a0) || ""};`, name)
	if err != nil {
		return "", false, err
	}
	return res.Value, res.Set, nil
}

func (p *chromedpPage) Visible(ctx context.Context, selector string) (bool, error) {
	res, err := p.query(ctx, selector, `
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		const shown = r.width > 0 && r.height > 0 && s.visibility !== "hidden" && s.display !== "none";
		return {found: true, set: shown, value: ""};`)
	if err != nil {
		return false, err
	}
	return res.Set, nil
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	n, err := p.Count(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	if err := p.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return buf, nil
}
