package store

import (
	"database/sql"
	"fmt"
	"time"
)

const previewLen = 100

// UpsertMessage stores a confirmed message (idempotent on id) and advances the
// owning conversation's last-message columns in the same transaction.
func (db *DB) UpsertMessage(m *Message) error {
	return db.UpsertMessages([]Message{*m})
}

// UpsertMessages stores a page of messages in one transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range msgs {
		if err := upsertMessage(tx, &msgs[i], now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertMessage(tx *sql.Tx, m *Message, now int64) error {
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at > conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		m.ConversationID, m.CreatedAt, Preview(m.Content), now); err != nil {
		return fmt.Errorf("touch conversation %s: %w", m.ConversationID, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, content, media_url, client_id, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			media_url = excluded.media_url,
			client_id = COALESCE(NULLIF(excluded.client_id, ''), messages.client_id)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.MediaURL, m.ClientID, m.CreatedAt, now); err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns messages for a conversation using keyset pagination by
// created_at, newest first. beforeMs <= 0 starts from the newest.
func (db *DB) ListMessages(conversationID string, beforeMs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, content, media_url, client_id, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MediaURL, &m.ClientID, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of mirrored messages, optionally scoped to
// one conversation.
func (db *DB) MessageCount(conversationID string) (int64, error) {
	var n int64
	var err error
	if conversationID == "" {
		err = db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	}
	return n, err
}

// Preview truncates content for the conversation list.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen])
}
