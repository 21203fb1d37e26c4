package browser

import (
	"strings"
	"sync"
	"time"

	"dev/bravebird/ipview-verify/pkg/models"
)

const defaultConsoleBuffer = 500

// ConsoleSink records the page's console output. It is a passive tap: it
// never blocks the driver's event loop and never talks back to the page.
type ConsoleSink struct {
	mu      sync.Mutex
	buf     []models.ConsoleMessage
	max     int
	dropped int
	forward func(models.ConsoleMessage)
	now     func() time.Time
}

// NewConsoleSink keeps the newest max messages (500 when max <= 0) and hands
// each one to forward, which may be nil.
func NewConsoleSink(max int, forward func(models.ConsoleMessage)) *ConsoleSink {
	if max <= 0 {
		max = defaultConsoleBuffer
	}
	return &ConsoleSink{
		max:     max,
		forward: forward,
		now:     time.Now,
	}
}

// Record stores one message, evicting the oldest when the buffer is full.
func (s *ConsoleSink) Record(level, text string) {
	msg := models.ConsoleMessage{
		Level:     strings.ToLower(level),
		Text:      text,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	if len(s.buf) >= s.max {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		s.dropped++
	}
	s.buf = append(s.buf, msg)
	forward := s.forward
	s.mu.Unlock()

	if forward != nil {
		forward(msg)
	}
}

// Messages returns a copy of the buffered messages, oldest first.
func (s *ConsoleSink) Messages() []models.ConsoleMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConsoleMessage, len(s.buf))
	copy(out, s.buf)
	return out
}

// Dropped is the number of messages evicted because the buffer was full.
func (s *ConsoleSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
