package events

import (
	"log"
	"sync"

	"github.com/nhle/zenkoo/internal/model"
)

// defaultHubBuffer is the per-subscription channel capacity.
const defaultHubBuffer = 16

// Hub is the process-wide broadcast channel for decoded push events.
// Surfaces that are not registered with the Dispatcher directly, such as the
// toast presenter, subscribe here instead.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is one Hub listener. Close it on teardown.
type Subscription struct {
	ch   chan model.Notification
	hub  *Hub
	once sync.Once
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		ch:  make(chan model.Notification, defaultHubBuffer),
		hub: h,
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s
}

// Publish delivers n to every subscription without blocking. A subscriber
// whose buffer is full misses the event.
func (h *Hub) Publish(n model.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		select {
		case s.ch <- n:
		default:
			log.Printf("broadcast: subscriber buffer full, dropping notification %s", n.ID)
		}
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// C returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan model.Notification {
	return s.ch
}

// Close unsubscribes and closes the channel. It is safe to call repeatedly.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}
