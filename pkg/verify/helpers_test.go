package verify

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"dev/bravebird/ipview-verify/pkg/browser/browsertest"
	"dev/bravebird/ipview-verify/pkg/models"
)

// recorder is an Evidence that remembers what was captured.
type recorder struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (r *recorder) Capture(ctx context.Context, phase models.Phase, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.names = append(r.names, name)
	return nil
}

func (r *recorder) captured() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newProbe(page *browsertest.Page) (*Probe, *recorder) {
	rec := &recorder{}
	return &Probe{Page: page, Evidence: rec, Logger: quietLogger()}, rec
}

// stuckToggle is the IP view with a toggle whose click never completes, as
// when another element covers it. It records whether the click was bounded.
type stuckToggle struct {
	*browsertest.Page
	clickDeadline bool
}

func (s *stuckToggle) Click(ctx context.Context, selector string) error {
	_, s.clickDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

// stuckRoot never answers attribute reads until its context ends.
type stuckRoot struct {
	*browsertest.Page
}

func (s *stuckRoot) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}
