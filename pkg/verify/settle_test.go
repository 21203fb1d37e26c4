package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/ipview-verify/pkg/browser/browsertest"
	"dev/bravebird/ipview-verify/pkg/models"
)

func settleSpec(timeout time.Duration) SettleSpec {
	return SettleSpec{
		URL:      "http://ipview.test",
		Selector: browsertest.IPSelector,
		Sentinel: browsertest.Loading,
		Timeout:  timeout,
		Interval: 5 * time.Millisecond,
	}
}

// stuckPage never leaves the loading placeholder.
func stuckPage() *browsertest.Page {
	return browsertest.IPView("never", 0).Set(browsertest.IPSelector, &browsertest.Element{
		Texts: []string{browsertest.Loading},
	})
}

func TestSettleReturnsResolvedText(t *testing.T) {
	page := browsertest.IPView("203.0.113.5", 3)
	probe, rec := newProbe(page)

	text, err := probe.Settle(context.Background(), settleSpec(2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.5", text)
	assert.Equal(t, 1, page.CallCount("Navigate"), "navigates exactly once")
	assert.Equal(t, 4, page.CallCount("Text"))
	assert.Equal(t, []string{models.ArtifactSettled}, rec.captured())
}

func TestSettleTimeoutKeepsDeadlineAndWritesDiagnostic(t *testing.T) {
	page := stuckPage()
	probe, rec := newProbe(page)

	start := time.Now()
	_, err := probe.Settle(context.Background(), settleSpec(60*time.Millisecond))
	require.Error(t, err)

	assert.True(t, IsKind(err, KindTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the original timeout is wrapped, not replaced")
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)

	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, models.PhaseSettle, ve.Phase)
	assert.Equal(t, models.ArtifactTimeout, ve.Artifact)
	assert.Contains(t, ve.Message, `"Loading..."`, "the still-pending text is reported")
	assert.Equal(t, []string{models.ArtifactTimeout}, rec.captured())
}

func TestSettleTimeoutWithoutScreenshotStillFails(t *testing.T) {
	page := stuckPage()
	probe, rec := newProbe(page)
	rec.err = errors.New("disk full")

	_, err := probe.Settle(context.Background(), settleSpec(30*time.Millisecond))
	assert.True(t, IsKind(err, KindTimeout))

	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, ve.Artifact)
}

func TestSettleWaitsForElementToRender(t *testing.T) {
	page := browsertest.NewPage().Set(browsertest.IPSelector, &browsertest.Element{
		Texts:       []string{"198.51.100.1"},
		AppearAfter: 4,
	})
	probe, _ := newProbe(page)

	text, err := probe.Settle(context.Background(), settleSpec(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", text)
	assert.Equal(t, 5, page.CallCount("Count"))
}

func TestSettleAmbiguousSelector(t *testing.T) {
	page := browsertest.NewPage().Set(browsertest.IPSelector, &browsertest.Element{
		Texts:   []string{"1.1.1.1"},
		Matches: 2,
	})
	probe, _ := newProbe(page)

	_, err := probe.Settle(context.Background(), settleSpec(time.Second))
	assert.True(t, IsKind(err, KindHarness))
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestSettleRejectsNonPositiveTimeout(t *testing.T) {
	page := browsertest.IPView("1.1.1.1", 0)
	probe, _ := newProbe(page)

	_, err := probe.Settle(context.Background(), settleSpec(0))
	assert.True(t, IsKind(err, KindHarness))
	assert.Zero(t, page.CallCount("Navigate"))
}

func TestSettleParentCancellationIsNotATimeout(t *testing.T) {
	page := stuckPage()
	probe, rec := newProbe(page)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := probe.Settle(ctx, settleSpec(10*time.Second))
	require.Error(t, err)
	assert.False(t, IsKind(err, KindTimeout))
	assert.True(t, IsKind(err, KindHarness))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.captured())
}

func TestSettleUnreachablePage(t *testing.T) {
	page := browsertest.IPView("1.1.1.1", 0).FailOn("Navigate", errors.New("net::ERR_CONNECTION_REFUSED"))
	probe, _ := newProbe(page)

	_, err := probe.Settle(context.Background(), settleSpec(time.Second))
	assert.True(t, IsKind(err, KindBootstrap))
	assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
}

func TestSettleErrorValue(t *testing.T) {
	page := browsertest.IPView("Error", 2)
	probe, rec := newProbe(page)

	spec := settleSpec(time.Second)
	spec.ErrorValues = []string{"Error"}
	text, err := probe.Settle(context.Background(), spec)

	assert.Equal(t, "Error", text)
	assert.True(t, IsKind(err, KindRejected))
	assert.Equal(t, []string{models.ArtifactSettleError}, rec.captured())
}

func TestSettleTrimsRenderedText(t *testing.T) {
	page := browsertest.NewPage().Set(browsertest.IPSelector, &browsertest.Element{
		Texts: []string{"  Loading...\n", "\n 203.0.113.9 "},
	})
	probe, _ := newProbe(page)

	text, err := probe.Settle(context.Background(), settleSpec(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", text)
}

func TestSettleCondition(t *testing.T) {
	cond := settleSpec(time.Second).Condition()
	assert.Equal(t, models.PredicateTextDiffers, cond.Predicate)
	assert.Equal(t, browsertest.Loading, cond.Value)
	assert.Equal(t, time.Second, cond.Timeout)
}
