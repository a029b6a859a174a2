// Package realtime manages named subscriptions to the platform's realtime
// stream: a registry that keeps one live handle per channel name and a
// controller that resubscribes with exponential backoff when a channel drops.
package realtime

import (
	"context"
	"fmt"
)

// ChannelState is the lifecycle state of a registered handle.
type ChannelState string

const (
	StateUnsubscribed ChannelState = "unsubscribed"
	StateSubscribing  ChannelState = "subscribing"
	StateJoined       ChannelState = "joined"
	StateErrored      ChannelState = "errored"
	StateTimedOut     ChannelState = "timed_out"
	StateClosed       ChannelState = "closed"
)

// Status is what the transport reports to a subscribe callback.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

func (s Status) channelState() ChannelState {
	switch s {
	case StatusSubscribed:
		return StateJoined
	case StatusChannelError:
		return StateErrored
	case StatusTimedOut:
		return StateTimedOut
	case StatusClosed:
		return StateClosed
	default:
		return StateUnsubscribed
	}
}

// InsertFilter selects row inserts delivered on a channel.
type InsertFilter struct {
	Schema string
	Table  string
	Filter string // e.g. "conversation_id=eq.42"
}

// PresenceKind distinguishes a full snapshot from incremental deltas.
type PresenceKind string

const (
	PresenceSync  PresenceKind = "sync"
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

// PresenceEvent reports a presence snapshot or delta. For PresenceSync,
// State holds every key currently present; for joins and leaves it holds
// only the keys that changed.
type PresenceEvent struct {
	Kind  PresenceKind
	State map[string][]map[string]any
}

// Channel is a transport-level subscription. Handlers must be registered
// before Subscribe.
type Channel interface {
	Topic() string
	OnBroadcast(event string, fn func(payload []byte))
	OnPresence(fn func(PresenceEvent))
	OnInsert(filter InsertFilter, fn func(record []byte))
	Subscribe(fn func(Status, error))
	Send(ctx context.Context, event string, payload any) error
	Track(ctx context.Context, payload any) error
	PresenceState() map[string][]map[string]any
}

// Transport creates and destroys channels.
type Transport interface {
	Channel(name string) Channel
	RemoveChannel(ch Channel) error
}

// Summary counts registered handles by whether they are joined.
type Summary struct {
	Joined    int
	NotJoined int
}

// Total returns the number of registered handles.
func (s Summary) Total() int {
	return s.Joined + s.NotJoined
}

// Names for the per-conversation channels.
func MessagesChannel(conversationID string) string {
	return fmt.Sprintf("messages:%s", conversationID)
}

func TypingChannel(conversationID string) string {
	return fmt.Sprintf("typing:%s", conversationID)
}

func PresenceChannel(conversationID string) string {
	return fmt.Sprintf("presence:%s", conversationID)
}
