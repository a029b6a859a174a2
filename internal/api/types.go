package api

import (
	"github.com/goccy/go-json"
)

type Empty struct{}

// Session

type StatusRequest struct{}

type ChannelStatus struct {
	Name    string `json:"name"`
	Phase   string `json:"phase"`
	Attempt int    `json:"attempt"`
}

type StatusResponse struct {
	Session        string          `json:"session"`
	State          string          `json:"state"`
	Indicator      string          `json:"indicator,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	UptimeMs       int64           `json:"uptime_ms"`
	Joined         int             `json:"joined"`
	NotJoined      int             `json:"not_joined"`
	PendingRetries int             `json:"pending_retries"`
	MessageCount   int64           `json:"message_count"`
	Channels       []ChannelStatus `json:"channels,omitempty"`
}

type RefreshRequest struct {
	// Channel restarts one name; empty restarts all.
	Channel string `json:"channel,omitempty"`
}

type RefreshResponse struct {
	Channels int `json:"channels"`
}

// Chat

type Message struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversation_id"`
	SenderID        string `json:"sender_id"`
	Content         string `json:"content"`
	MediaURL        string `json:"media_url,omitempty"`
	Pending         bool   `json:"pending,omitempty"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type OpenResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	HasMore        bool      `json:"has_more"`
	LoadError      string    `json:"load_error,omitempty"`
}

type CloseResponse struct {
	Closed bool `json:"closed"`
}

type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	MediaURL       string `json:"media_url,omitempty"`
}

type SendResponse struct {
	Message *Message `json:"message,omitempty"`
}

type LoadMoreResponse struct {
	Messages int  `json:"messages"`
	HasMore  bool `json:"has_more"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	BeforeUnixMs   int64  `json:"before_unix_ms,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	// Source is "cache" for an open conversation, "mirror" otherwise.
	Source string `json:"source"`
}

type InputRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type InputResponse struct {
	Typing bool `json:"typing"`
}

type PeerStateResponse struct {
	Typing bool `json:"typing"`
	Online bool `json:"online"`
}

type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

type WatchRequest struct {
	// Prefixes filters event kinds; empty means chat., realtime., action. and link.
	Prefixes []string `json:"prefixes,omitempty"`
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Session          string          `json:"session"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Kind             string          `json:"kind"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// Actions

type PerformRequest struct {
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
}

type PerformResponse struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
}

type RecentActionsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ActionRecord struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	TargetID        string `json:"target_id"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

type RecentActionsResponse struct {
	Actions []ActionRecord `json:"actions"`
}
