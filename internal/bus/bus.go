// Package bus fans domain events out to in-process subscribers.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus delivers events to subscribers by kind prefix. Delivery never blocks
// the publisher: a subscriber whose buffer is full misses the event and the
// miss is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Uint64
}

type subscription struct {
	prefix string
	ch     chan Event
}

// offer reports false only when the event matched and was dropped.
func (s *subscription) offer(evt Event) bool {
	if !strings.HasPrefix(evt.Kind, s.prefix) {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind,
// stamping the time if unset. A nil bus discards everything.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.offer(evt) {
			b.dropped.Add(1)
		}
	}
}

// Emit publishes kind with payload, stamped now.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe registers for events whose kind starts with prefix ("" matches
// all) with a buffer of size buf. The returned cancel func is idempotent; the
// channel is never closed.
func (b *Bus) Subscribe(prefix string, buf int) (<-chan Event, func()) {
	sub := &subscription{prefix: prefix, ch: make(chan Event, buf)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		})
	}
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Subscribers int
	// Dropped counts deliveries missed because a subscriber was full, over
	// the lifetime of the bus.
	Dropped uint64
}

// Stats reports live subscriptions and total dropped deliveries.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Subscribers: n, Dropped: b.dropped.Load()}
}
