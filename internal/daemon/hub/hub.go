// Package hub fans emitted events out to connected UI clients.
package hub

import (
	"sync"

	"github.com/grovetools/trail/pkg/models"
	"github.com/sirupsen/logrus"
)

// Hub broadcasts events to every subscriber. It remembers the latest event
// of each name so new subscribers can be brought up to date.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan models.Event]struct{}
	latest      map[string]models.Event
	logger      *logrus.Entry
}

// New creates a new Hub instance.
func New(logger *logrus.Entry) *Hub {
	return &Hub{
		subscribers: make(map[chan models.Event]struct{}),
		latest:      make(map[string]models.Event),
		logger:      logger,
	}
}

// Emit marshals payload into an event named name and notifies subscribers.
func (h *Hub) Emit(name string, payload interface{}) {
	ev, err := models.NewEvent(name, payload)
	if err != nil {
		h.logger.WithError(err).WithField("event", name).Error("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[name] = ev
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Non-blocking send to prevent slow clients from stalling the engine
			h.logger.WithField("event", name).Debug("Subscriber full, dropping event")
		}
	}
}

// Subscribe creates a new subscription channel for emitted events.
func (h *Hub) Subscribe() chan models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan models.Event, 100)
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(ch chan models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; !ok {
		return
	}
	delete(h.subscribers, ch)
	close(ch)
}

// Latest returns the most recent event with the given name.
func (h *Hub) Latest(name string) (models.Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev, ok := h.latest[name]
	return ev, ok
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
