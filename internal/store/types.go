package store

// Conversation is a chat the user has opened at least once.
type Conversation struct {
	ID                 string
	PeerID             string
	Title              string
	LastMessageAt      int64
	LastMessagePreview string
}

// Message mirrors a server-confirmed chat message. Timestamps are unix millis.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	MediaURL       string
	ClientID       string
	CreatedAt      int64
}

// Action status values.
const (
	ActionSending = "sending"
	ActionSent    = "sent"
	ActionFailed  = "failed"
)

// Action is one entry in the optimistic action log.
type Action struct {
	ID           string
	Kind         string
	TargetID     string
	ActorID      string
	Status       string
	ErrorMessage string
	CreatedAt    int64
	UpdatedAt    int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
