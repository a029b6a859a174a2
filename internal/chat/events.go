package chat

import "time"

// Payloads of the chat.* bus events.

type CacheChange struct {
	ConversationID string
	Messages       int
}

type Confirmed struct {
	ConversationID string
	Message        Message
}

type Remote struct {
	ConversationID string
	Message        Message
}

type PageLoaded struct {
	ConversationID string
	Messages       []Message
	Cursor         time.Time
	HasMore        bool
}

type PeerTypingChange struct {
	ConversationID string
	UserID         string
	Typing         bool
}

type PresenceChange struct {
	ConversationID string
	Online         bool
}
