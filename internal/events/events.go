// Package events carries session lifecycle events to observers.
//
// The engine publishes through the Publisher interface. Hub fans events out
// to in-process subscribers, and Multi combines several publishers so a
// session can feed the hub and a NATS bus at the same time.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/domain"
)

// DefaultBuffer is the channel size of a subscription.
const DefaultBuffer = 256

// Publisher delivers events to observers. Publish must not block on slow
// observers.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event domain.Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, domain.Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

// Publish delivers the event to each publisher in order.
func (m Multi) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscription receives events from a Hub.
type Subscription struct {
	hub       *Hub
	sessionID string
	ch        chan domain.Event

	mu      sync.Mutex
	dropped int
	closed  bool
}

// C returns the event channel. It is closed by Close or Hub.Close.
func (s *Subscription) C() <-chan domain.Event {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes and closes the channel. It is safe to call twice.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (s *Subscription) deliver(event domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		s.dropped++
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub is an in-process Publisher with per-session subscriptions.
type Hub struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscription for one session, or for every session
// when sessionID is empty. A non-positive buffer uses DefaultBuffer.
func (h *Hub) Subscribe(sessionID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{hub: h, sessionID: sessionID, ch: make(chan domain.Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to matching subscribers without blocking.
// Slow subscribers lose the event.
func (h *Hub) Publish(_ context.Context, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		if !sub.deliver(event) {
			h.logger.Warn().
				Str("session_id", event.SessionID).
				Str("event", string(event.Type)).
				Msg("subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		sub.close()
		delete(h.subs, sub)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}
