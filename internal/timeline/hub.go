// Package timeline implements the Timeline Logger and Broadcast hub:
// durable append, a bounded drop-oldest buffer for warehouse flushing,
// and fan-out to live subscribers.
package timeline

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth; a subscriber
// slower than this is dropped rather than allowed to block the fan-out.
const subscriberBuffer = 64

// Hub is the transport-agnostic broadcast fan-out. A send that would
// block is treated as failure and the subscriber is removed.
// internal/httpapi wires each subscription to a gorilla/websocket
// connection; the Hub itself only knows about channels.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan []byte)}
}

// Subscribe registers a new listener and returns its id and receive
// channel. The caller must eventually call Unsubscribe(id).
func (h *Hub) Subscribe() (string, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel. A no-op on an
// unknown id.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Broadcast pushes payload to every subscriber. A subscriber whose
// buffer is full is treated as failed: its channel is closed and it is
// removed from the set. Removal never aborts the fan-out to the
// remaining subscribers.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- payload:
		default:
			close(ch)
			delete(h.subscribers, id)
		}
	}
}

// SubscriberCount reports the live subscriber count, for diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
