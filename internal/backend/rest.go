package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/matheus3301/duet/internal/chat"
)

const messagesPath = "/rest/v1/messages"

// InsertMessage inserts one row and returns it as stored.
func (c *Client) InsertMessage(ctx context.Context, m chat.NewMessage) (chat.Message, error) {
	var rows []chat.Message
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    messagesPath,
		body:    m,
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return chat.Message{}, err
	}
	if len(rows) == 0 {
		return chat.Message{}, errors.New("insert message: server returned no row")
	}
	return rows[0], nil
}

// ListMessages returns up to limit messages older than before, newest first.
// A zero before returns the newest page.
func (c *Client) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("conversation_id", "eq."+conversationID)
	if !before.IsZero() {
		q.Set("created_at", "lt."+before.UTC().Format(time.RFC3339Nano))
	}
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))

	var rows []chat.Message
	if err := c.do(ctx, request{method: http.MethodGet, path: messagesPath, query: q}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

var _ chat.Store = (*Client)(nil)
