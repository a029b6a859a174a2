package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNoConversation = errors.New("conversation id required")
	ErrNoUser         = errors.New("no signed-in user")
	ErrNotOpen        = errors.New("conversation not open")
)

// Manager owns the open conversations of the signed-in user.
type Manager struct {
	userID string
	cfg    Config
	deps   Deps

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewManager creates a manager for userID.
func NewManager(userID string, cfg Config, d Deps) *Manager {
	return &Manager{userID: userID, cfg: cfg, deps: d, convs: make(map[string]*Conversation)}
}

// UserID returns the signed-in user.
func (m *Manager) UserID() string {
	return m.userID
}

// Open returns the open conversation for id, opening it if needed. A failed
// initial load is returned alongside the conversation, which stays open.
func (m *Manager) Open(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, ErrNoConversation
	}
	if m.userID == "" {
		return nil, ErrNoUser
	}
	m.mu.Lock()
	if c, ok := m.convs[id]; ok {
		m.mu.Unlock()
		return c, nil
	}
	c := NewConversation(id, m.userID, m.cfg, m.deps)
	m.convs[id] = c
	m.mu.Unlock()

	return c, c.Open(ctx)
}

// Get returns the open conversation for id.
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, ErrNotOpen
	}
	return c, nil
}

// Close closes and forgets the conversation. Returns false if it was not open.
func (m *Manager) Close(ctx context.Context, id string) bool {
	m.mu.Lock()
	c, ok := m.convs[id]
	delete(m.convs, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	c.Close(ctx)
	return true
}

// CloseAll closes every open conversation.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, id := range m.OpenIDs() {
		m.Close(ctx, id)
	}
}

// OpenIDs lists the open conversation ids in order.
func (m *Manager) OpenIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
