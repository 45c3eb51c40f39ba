package broadcast

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// subscription represents a subscriber's delivery channel.
type subscription struct {
	id string
	ch chan Message
}

// Hub manages subscriptions and broadcasts messages to all of them.
// Delivery is non-blocking: a subscriber that stops draining its channel
// loses messages rather than stalling the publisher.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription

	sequenceNo   uint64
	sequenceNoMu sync.Mutex
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a subscriber with the given channel buffer size and
// returns the subscription ID along with the receive channel.
func (h *Hub) Subscribe(buffer int) (string, <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	sub := &subscription{
		id: id,
		ch: make(chan Message, buffer),
	}
	h.subscriptions[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscriptions[subscriptionID]; ok {
		delete(h.subscriptions, subscriptionID)
		close(sub.ch)
	}
}

// Publish stamps the message with the next sequence number and delivers it
// to every subscriber without blocking.
func (h *Hub) Publish(m Message) {
	h.sequenceNoMu.Lock()
	h.sequenceNo++
	m.SequenceNo = h.sequenceNo
	h.sequenceNoMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		select {
		case sub.ch <- m:
		default:
			zlog.Warn().Msgf("broadcast: dropping %s for slow subscriber %s", m.Kind, sub.id)
		}
	}
}

// Close removes all subscriptions and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscriptions {
		delete(h.subscriptions, id)
		close(sub.ch)
	}
}
