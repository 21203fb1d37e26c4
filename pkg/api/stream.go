package api

import (
	"sync"

	"dev/bravebird/ipview-verify/pkg/models"
)

const subscriberBuffer = 64

// Hub fans run events out to websocket subscribers. Publish never blocks:
// a subscriber that falls behind loses events and relies on polling for
// the final result.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan models.RunEvent]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan models.RunEvent]struct{})}
}

// Subscribe returns the event channel for runID and a func that ends the subscription
func (h *Hub) Subscribe(runID string) (<-chan models.RunEvent, func()) {
	ch := make(chan models.RunEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan models.RunEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[runID], ch)
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber of ev.RunID
func (h *Hub) Publish(ev models.RunEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers counts the subscribers of runID
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[runID])
}
