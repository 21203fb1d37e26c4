package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/ipview-verify/pkg/models"
)

func TestConsoleSinkKeepsNewest(t *testing.T) {
	var forwarded []models.ConsoleMessage
	sink := NewConsoleSink(3, func(m models.ConsoleMessage) {
		forwarded = append(forwarded, m)
	})

	for i := 0; i < 5; i++ {
		sink.Record("LOG", fmt.Sprintf("msg %d", i))
	}

	msgs := sink.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 2", msgs[0].Text)
	assert.Equal(t, "msg 4", msgs[2].Text)
	assert.Equal(t, "log", msgs[0].Level)
	assert.Equal(t, 2, sink.Dropped())
	assert.Len(t, forwarded, 5, "every message is forwarded, even evicted ones")
}

func TestConsoleSinkMessagesIsACopy(t *testing.T) {
	sink := NewConsoleSink(0, nil)
	sink.Record("error", "boom")

	msgs := sink.Messages()
	msgs[0].Text = "changed"
	assert.Equal(t, "boom", sink.Messages()[0].Text)
}

func TestConsoleSinkConcurrentRecord(t *testing.T) {
	sink := NewConsoleSink(50, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sink.Record("info", "x")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sink.Messages(), 50)
	assert.Equal(t, 150, sink.Dropped())
}

func TestSessionCloseOnce(t *testing.T) {
	calls := 0
	s := NewSession("rod", nil, nil, func() error {
		calls++
		return errors.New("already gone")
	})

	err1 := s.Close()
	err2 := s.Close()
	assert.Equal(t, 1, calls)
	assert.EqualError(t, err1, "already gone")
	assert.Equal(t, err1, err2)
	assert.NotNil(t, s.Console)
}

func TestLaunchUnknownDriver(t *testing.T) {
	_, err := Launch(context.Background(), Options{Driver: "selenium"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestWithinStopsWaitingAndClosesLateLaunch(t *testing.T) {
	release := make(chan struct{})
	closed := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := within(ctx, func() (Page, func() error, error) {
		<-release
		return nil, func() error { close(closed); return nil }, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("late launch was not closed")
	}
}

func TestWithinReturnsLaunchError(t *testing.T) {
	_, _, err := within(context.Background(), func() (Page, func() error, error) {
		return nil, nil, errors.New("no chrome")
	})
	assert.EqualError(t, err, "no chrome")
}

func TestViewportDefaults(t *testing.T) {
	w, h := viewport(Options{})
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	w, h = viewport(Options{ViewportWidth: 800, ViewportHeight: 600})
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}

func TestJSStringEscapes(t *testing.T) {
	assert.Equal(t, `"#ip-address"`, jsString("#ip-address"))
	assert.Equal(t, `"a[title=\"x\"]"`, jsString(`a[title="x"]`))
}
