// Package stream provides the in-process pub/sub hub feeding the SSE
// and WebSocket surfaces. Two hub instances run in the process: one
// keyed by cow id (animal keyspace) and one keyed by named system
// channels such as ml_training_status.
package stream

import (
	"log"
	"sync"
)

const defaultQueueSize = 64

// Subscriber is one registered listener on a hub key. Events arrive on C
// in publication order; when the queue fills, the oldest event is
// dropped so a slow client never stalls the publisher.
type Subscriber struct {
	C   chan []byte
	key string
}

// Hub fans serialized events out to subscribers grouped by key.
// The registry lock is held only for registry mutation, never across
// channel sends.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscriber
	bufSize int

	// OnDrop is called when a subscriber queue overflows (for metrics).
	OnDrop func(key string)
}

// NewHub creates a Hub with the given per-subscriber queue size.
// size <= 0 selects the default of 64.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		subs:    make(map[string][]*Subscriber),
		bufSize: queueSize,
	}
}

// Subscribe registers a new listener for key and returns its handle.
func (h *Hub) Subscribe(key string) *Subscriber {
	sub := &Subscriber{
		C:   make(chan []byte, h.bufSize),
		key: key,
	}
	h.mu.Lock()
	h.subs[key] = append(h.subs[key], sub)
	count := len(h.subs[key])
	h.mu.Unlock()

	log.Printf("[stream] subscriber joined key=%s (%d total)", key, count)
	return sub
}

// Unsubscribe removes a listener. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	list := h.subs[sub.key]
	for i, s := range list {
		if s == sub {
			h.subs[sub.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.subs[sub.key]) == 0 {
		delete(h.subs, sub.key)
	}
	h.mu.Unlock()

	log.Printf("[stream] subscriber left key=%s", sub.key)
}

// Publish enqueues payload on every current subscriber of key.
// Never blocks: a full queue drops its oldest entry to make room, so
// subscribers always converge on the latest event.
func (h *Hub) Publish(key string, payload []byte) {
	h.mu.RLock()
	list := h.subs[key]
	h.mu.RUnlock()

	for _, sub := range list {
		select {
		case sub.C <- payload:
		default:
			// Queue full — drop oldest, then retry once.
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- payload:
			default:
			}
			if h.OnDrop != nil {
				h.OnDrop(key)
			}
		}
	}
}

// SubscriberCount returns the number of listeners on key.
func (h *Hub) SubscriberCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}
