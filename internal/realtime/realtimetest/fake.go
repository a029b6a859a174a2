// Package realtimetest provides an in-memory realtime.Transport for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/matheus3301/duet/internal/realtime"
)

// Sent records a broadcast pushed through a fake channel.
type Sent struct {
	Event   string
	Payload any
}

// Transport creates fake channels and remembers every one of them.
type Transport struct {
	// AutoJoin makes Subscribe report SUBSCRIBED immediately.
	AutoJoin bool

	mu       sync.Mutex
	channels []*Channel
	removed  []*Channel
}

// NewTransport creates an empty fake transport.
func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) Channel(name string) realtime.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := &Channel{name: name, transport: t, broadcast: make(map[string][]func([]byte))}
	t.channels = append(t.channels, ch)
	return ch
}

func (t *Transport) RemoveChannel(c realtime.Channel) error {
	ch := c.(*Channel)
	ch.mu.Lock()
	ch.removed = true
	ch.mu.Unlock()
	t.mu.Lock()
	t.removed = append(t.removed, ch)
	t.mu.Unlock()
	return nil
}

// Created returns every channel created for name, oldest first.
func (t *Transport) Created(name string) []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Channel
	for _, ch := range t.channels {
		if ch.name == name {
			out = append(out, ch)
		}
	}
	return out
}

// Latest returns the newest channel created for name, or nil.
func (t *Transport) Latest(name string) *Channel {
	created := t.Created(name)
	if len(created) == 0 {
		return nil
	}
	return created[len(created)-1]
}

// Removed returns how many channels were removed.
func (t *Transport) Removed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.removed)
}

// Channel is a fake realtime.Channel driven by the test.
type Channel struct {
	name      string
	transport *Transport

	mu         sync.Mutex
	status     func(realtime.Status, error)
	broadcast  map[string][]func([]byte)
	presence   []func(realtime.PresenceEvent)
	inserts    []func([]byte)
	filters    []realtime.InsertFilter
	sent       []Sent
	tracked    []any
	state      map[string][]map[string]any
	subscribed int
	removed    bool
	sendErr    error
}

func (c *Channel) Topic() string {
	return "realtime:" + c.name
}

func (c *Channel) OnBroadcast(event string, fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcast[event] = append(c.broadcast[event], fn)
}

func (c *Channel) OnPresence(fn func(realtime.PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = append(c.presence, fn)
}

func (c *Channel) OnInsert(filter realtime.InsertFilter, fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, filter)
	c.inserts = append(c.inserts, fn)
}

func (c *Channel) Subscribe(fn func(realtime.Status, error)) {
	c.mu.Lock()
	c.status = fn
	c.subscribed++
	auto := c.transport.AutoJoin
	c.mu.Unlock()
	if auto {
		fn(realtime.StatusSubscribed, nil)
	}
}

func (c *Channel) Send(_ context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{Event: event, Payload: payload})
	return nil
}

func (c *Channel) Track(_ context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = append(c.tracked, payload)
	return nil
}

func (c *Channel) PresenceState() map[string][]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]map[string]any, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

// Report invokes the subscribe callback as the transport would.
func (c *Channel) Report(s realtime.Status, err error) {
	c.mu.Lock()
	fn := c.status
	c.mu.Unlock()
	if fn != nil {
		fn(s, err)
	}
}

// Broadcast delivers a broadcast event; payload is JSON-encoded.
func (c *Channel) Broadcast(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.mu.Lock()
	handlers := append([]func([]byte){}, c.broadcast[event]...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

// Insert delivers a row insert; record is JSON-encoded.
func (c *Channel) Insert(record any) {
	data, _ := json.Marshal(record)
	c.mu.Lock()
	handlers := append([]func([]byte){}, c.inserts...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

// Presence delivers a presence event and keeps State in sync with it.
func (c *Channel) Presence(evt realtime.PresenceEvent) {
	c.mu.Lock()
	switch evt.Kind {
	case realtime.PresenceSync:
		c.state = evt.State
	case realtime.PresenceJoin:
		if c.state == nil {
			c.state = make(map[string][]map[string]any)
		}
		for k, v := range evt.State {
			c.state[k] = v
		}
	case realtime.PresenceLeave:
		for k := range evt.State {
			delete(c.state, k)
		}
	}
	handlers := append([]func(realtime.PresenceEvent){}, c.presence...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

// FailSends makes subsequent Send calls return err.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Sent returns the broadcasts pushed so far.
func (c *Channel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Tracked returns the presence payloads tracked so far.
func (c *Channel) Tracked() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.tracked...)
}

// Filters returns the insert filters registered on the channel.
func (c *Channel) Filters() []realtime.InsertFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.InsertFilter(nil), c.filters...)
}

// Subscribes returns how many times Subscribe was called.
func (c *Channel) Subscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// IsRemoved reports whether the transport removed the channel.
func (c *Channel) IsRemoved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}
