// Package chat keeps the local view of a conversation consistent with the
// server while sends are in flight, and owns the conversation's realtime
// channels for new messages, typing and presence.
package chat

import (
	"context"
	"strings"
	"time"
)

// TempPrefix marks ids generated locally for messages not yet confirmed.
const TempPrefix = "tmp-"

// Message is one chat entry. ClientID is the temporary id the sender used,
// echoed back by the server so the sender can recognise its own insert.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	MediaURL       string    `json:"media_url,omitempty"`
	ClientID       string    `json:"client_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsTemp reports whether m is an unconfirmed local entry.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempPrefix)
}

// NewMessage is the row submitted to the server.
type NewMessage struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	MediaURL       string `json:"media_url,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
}

// Store is the server-side message table.
type Store interface {
	InsertMessage(ctx context.Context, m NewMessage) (Message, error)
	// ListMessages returns up to limit messages created strictly before
	// before (any time when zero), newest first.
	ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]Message, error)
}

// TypingSignal is the broadcast payload on a typing channel.
type TypingSignal struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceMeta is what each client tracks on a presence channel.
type PresenceMeta struct {
	UserID   string `json:"user_id"`
	OnlineAt string `json:"online_at"`
}
