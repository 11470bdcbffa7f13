package server

import (
	"log/slog"
	"sync"

	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// DefaultSubscriberBuffer is how many events a subscriber may lag behind
// before it is dropped.
const DefaultSubscriberBuffer = 256

// Hub fans run events out to SSE subscribers. It never blocks the run: a
// subscriber whose buffer is full is disconnected.
type Hub struct {
	log    *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
	ack  func() error
}

// Subscription is one connected display.
type Subscription struct {
	C    <-chan events.Envelope
	c    chan events.Envelope
	gone chan struct{}
	once sync.Once
}

// Gone is closed when the hub dropped the subscription.
func (s *Subscription) Gone() <-chan struct{} { return s.gone }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.gone) })
}

// NewHub creates a hub with the default subscriber buffer.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		log:    util.OrDefault(logger).With("component", "hub"),
		buffer: DefaultSubscriberBuffer,
		subs:   make(map[*Subscription]struct{}),
	}
}

// AutoAck makes the hub acknowledge Reset events itself while nobody is
// subscribed, so a run is not stuck waiting for a display that is not there.
func (h *Hub) AutoAck(ack func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ack = ack
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	c := make(chan events.Envelope, h.buffer)
	sub := &Subscription{C: c, c: c, gone: make(chan struct{})}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug("subscriber added", "subscribers", n)
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Emit implements events.Sink.
func (h *Hub) Emit(e events.Envelope) {
	h.mu.Lock()
	var dropped int
	for sub := range h.subs {
		select {
		case sub.c <- e:
		default:
			delete(h.subs, sub)
			sub.close()
			dropped++
		}
	}
	ack := h.ack
	unobserved := len(h.subs) == 0
	h.mu.Unlock()

	if dropped > 0 {
		h.log.Warn("dropped slow subscribers", "count", dropped)
	}
	if _, ok := e.Event.(events.Reset); ok && unobserved && ack != nil {
		if err := ack(); err != nil {
			h.log.Debug("auto acknowledge failed", "err", err)
		}
	}
}
