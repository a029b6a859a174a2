package bus

import "time"

// Event is a domain event published on the bus. Kind is dotted; subscribers
// filter by prefix ("realtime.", "chat.", "action.").
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds.
const (
	RealtimeJoined         = "realtime.joined"
	RealtimeDisconnected   = "realtime.disconnected"
	RealtimeRetryScheduled = "realtime.retry_scheduled"
	RealtimeGivenUp        = "realtime.given_up"

	ChatCacheChanged = "chat.cache_changed"
	ChatConfirmed    = "chat.message_confirmed"
	ChatRemoteInsert = "chat.remote_insert"
	ChatPageLoaded   = "chat.page_loaded"
	ChatAlert        = "chat.alert"
	ChatPeerTyping   = "chat.peer_typing"
	ChatPeerPresence = "chat.peer_presence"

	ActionApplied    = "action.applied"
	ActionConfirmed  = "action.confirmed"
	ActionRolledBack = "action.rolled_back"

	StoreMessageUpserted = "store.message_upserted"
	StorePageMirrored    = "store.page_mirrored"

	LinkStatusChanged = "link.status_changed"
)

// ChannelChange is the payload of realtime.* events.
type ChannelChange struct {
	Channel string
	Status  string
	Attempt int
	Delay   time.Duration
}

// Alert is a user-visible failure notice.
type Alert struct {
	Action  string
	Target  string
	Message string
}
