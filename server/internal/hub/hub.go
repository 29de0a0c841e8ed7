package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber event queue depth used when New is
// given a non-positive size.
const DefaultBuffer = 16

// Event is one named, already-serialized message.
type Event struct {
	Name string
	Data json.RawMessage
}

// Subscription is a subscriber handle. Events delivers published events until
// the subscription is removed, at which point the channel is closed.
type Subscription struct {
	id uint64
	ch chan Event
}

// ID returns the opaque subscriber id.
func (s *Subscription) ID() uint64 { return s.id }

// Events returns the receive side of the subscriber's queue.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Hub fans events out to subscribers. It is safe for concurrent use.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	// dropped counts subscribers removed because their queue was full.
	dropped uint64
}

// New creates a Hub whose subscribers each get a queue of buffer events.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{id: h.nextID, ch: make(chan Event, h.buffer)}
	h.subs[s.id] = s
	return s
}

// Unsubscribe removes s and closes its channel. Calling it again, or after
// the hub dropped s, is a no-op.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s.id)
}

// Publish serializes payload once and delivers it to every current
// subscriber. It never blocks on a subscriber.
func (h *Hub) Publish(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hub: marshal %s: %w", name, err)
	}
	evt := Event{Name: name, Data: data}

	// Sends happen under the read lock: Unsubscribe needs the write lock to
	// close a channel, so no send can hit a closed channel.
	var slow []uint64
	h.mu.RLock()
	for id, s := range h.subs {
		select {
		case s.ch <- evt:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, id := range slow {
			if h.remove(id) {
				h.dropped++
				slog.Warn("hub: subscriber queue full, dropping", "subscriber", id, "event", name)
			}
		}
		h.mu.Unlock()
	}
	return nil
}

// Count returns the number of current subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many subscribers were removed for falling behind.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close removes every subscriber, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.subs {
		h.remove(id)
	}
}

// remove deletes and closes a subscriber. Caller holds the write lock.
func (h *Hub) remove(id uint64) bool {
	s, ok := h.subs[id]
	if !ok {
		return false
	}
	delete(h.subs, id)
	close(s.ch)
	return true
}
