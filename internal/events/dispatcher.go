package events

import (
	"log"
	"sync"

	"github.com/nhle/zenkoo/internal/model"
)

// Subscriber receives dispatched notifications.
type Subscriber func(model.Notification)

type registration struct {
	fn Subscriber
}

// Dispatcher fans each push event out to its registered subscribers, in
// registration order, and then publishes it on the broadcast Hub.
type Dispatcher struct {
	mu   sync.Mutex
	subs []*registration
	hub  *Hub
}

// NewDispatcher creates a Dispatcher that broadcasts on hub. A nil hub
// disables the broadcast path.
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// Hub returns the broadcast hub.
func (d *Dispatcher) Hub() *Hub {
	return d.hub
}

// Register adds fn to the fan-out list. The returned function removes
// exactly this registration; calling it again is a no-op.
func (d *Dispatcher) Register(fn Subscriber) func() {
	reg := &registration{fn: fn}

	d.mu.Lock()
	d.subs = append(d.subs, reg)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, r := range d.subs {
				if r == reg {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered subscribers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Dispatch invokes every registered subscriber synchronously with n.
// A panicking subscriber is logged and does not stop delivery to the rest.
func (d *Dispatcher) Dispatch(n model.Notification) {
	d.mu.Lock()
	subs := make([]*registration, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	for _, reg := range subs {
		deliver(reg.fn, n)
	}

	if d.hub != nil {
		d.hub.Publish(n)
	}
}

// HandleFrame decodes a raw push frame and dispatches it. Malformed frames
// are logged and dropped.
func (d *Dispatcher) HandleFrame(data []byte) {
	n, err := Decode(data)
	if err != nil {
		log.Printf("dropping push frame: %v", err)
		return
	}
	d.Dispatch(n)
}

func deliver(fn Subscriber, n model.Notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("notification subscriber panicked on %s: %v", n.ID, r)
		}
	}()
	fn(n)
}
