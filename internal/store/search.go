package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages finds mirrored messages whose content contains query,
// case-insensitively, newest first. An empty conversationID searches all.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, conversation_id, sender_id, content, media_url, client_id, created_at
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m := &r.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MediaURL, &m.ClientID, &m.CreatedAt); err != nil {
			return nil, err
		}
		r.Snippet = snippet(m.Content, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match with << >> and trims the text around it.
func snippet(content, query string) string {
	lower, needle := strings.ToLower(content), strings.ToLower(query)
	// Offsets into lower are only valid for content when folding kept byte lengths.
	i := strings.Index(lower, needle)
	if i < 0 || len(lower) != len(content) {
		return content
	}
	end := i + len(needle)
	start := i
	for n := 0; start > 0 && n < snippetRadius; n++ {
		_, size := utf8.DecodeLastRuneInString(content[:start])
		start -= size
	}
	stop := end
	for n := 0; stop < len(content) && n < snippetRadius; n++ {
		_, size := utf8.DecodeRuneInString(content[stop:])
		stop += size
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(content[start:i])
	b.WriteString("<<")
	b.WriteString(content[i:end])
	b.WriteString(">>")
	b.WriteString(content[end:stop])
	if stop < len(content) {
		b.WriteString("...")
	}
	return b.String()
}
