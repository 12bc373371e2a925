// Package events is the engine change feed. Engines publish an event
// after every in-memory mutation commits; subscribers (the async
// persister, the WS fanout, the NATS bridge) consume them without ever
// blocking the request path.
package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/logger"
)

// Event kinds.
const (
	KindMessageAppended = "message_appended"
	KindMessageFlagged  = "message_flagged"
	KindReadMarked      = "read_marked"
	KindThreadExpired   = "thread_expired"
	KindSwipeRecorded   = "swipe_recorded"
	KindMatchCreated    = "match_created"
	KindFaveSet         = "fave_set"
	KindFaveCleared     = "fave_cleared"
)

// Event is one engine state change. Payload carries the engine-owned row
// that changed (a message, a swipe, a match); subscribers type-assert on
// the kinds they care about.
type Event struct {
	Kind     string `json:"kind"`
	ThreadID string `json:"threadId,omitempty"`
	Actor    string `json:"actor,omitempty"`
	AtMs     int64  `json:"atMs"`
	Payload  any    `json:"payload,omitempty"`
}

// Publisher is the engine-facing side of the feed.
type Publisher interface {
	Publish(Event)
}

// Nop swallows all events. Used in tests and unwired setups.
type Nop struct{}

// Publish drops the event.
func (Nop) Publish(Event) {}

type subscriber struct {
	name string
	ch   chan Event
}

// Hub fans events out to in-process subscribers. Delivery is asynchronous
// with a bounded buffer per subscriber; when a subscriber falls behind its
// newest events are dropped and counted rather than stalling publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	next    int
	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Subscribe registers fn to receive events on its own goroutine, buffered
// to depth buffer. The returned cancel stops delivery and releases the
// subscription.
func (h *Hub) Subscribe(name string, buffer int, fn func(Event)) (cancel func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{name: name, ch: make(chan Event, buffer)}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			// No publisher holds a reference anymore; safe to close.
			close(sub.ch)
		})
	}
}

// Publish delivers ev to every subscriber without blocking. Events to a
// full subscriber buffer are dropped and counted.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
			logger.L("events").Debug("subscriber buffer full, event dropped",
				zap.String("subscriber", sub.name), zap.String("kind", ev.Kind))
		}
	}
}

// Dropped returns the number of events dropped across all subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
