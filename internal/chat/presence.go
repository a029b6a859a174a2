package chat

import (
	"context"
	"time"

	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/realtime"
	"go.uber.org/zap"
)

func (c *Conversation) setupPresence(ch realtime.Channel) {
	ch.OnPresence(c.Presence)
}

// trackPresence announces this user once the presence channel is joined.
func (c *Conversation) trackPresence() {
	h := c.ctrl.Registry().Lookup(realtime.PresenceChannel(c.id))
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	meta := PresenceMeta{UserID: c.userID, OnlineAt: c.sched.Now().UTC().Format(time.RFC3339)}
	if err := h.Channel().Track(ctx, meta); err != nil {
		c.logger.Warn("failed to track presence", zap.Error(err))
	}
}

// Presence folds a snapshot or delta into the presence view. The peer is
// online while any key other than our own has at least one meta.
func (c *Conversation) Presence(evt realtime.PresenceEvent) {
	c.mu.Lock()
	switch evt.Kind {
	case realtime.PresenceSync:
		c.presence = make(map[string]int, len(evt.State))
		for key, metas := range evt.State {
			if len(metas) > 0 {
				c.presence[key] = len(metas)
			}
		}
	case realtime.PresenceJoin:
		for key, metas := range evt.State {
			c.presence[key] += len(metas)
		}
	case realtime.PresenceLeave:
		for key, metas := range evt.State {
			c.presence[key] -= len(metas)
			if c.presence[key] <= 0 {
				delete(c.presence, key)
			}
		}
	}
	online := false
	for key := range c.presence {
		if key != c.userID {
			online = true
			break
		}
	}
	changed := online != c.online
	c.online = online
	c.mu.Unlock()

	if changed {
		c.bus.Emit(bus.ChatPeerPresence, PresenceChange{ConversationID: c.id, Online: online})
	}
}

// PeerOnline reports whether the other participant is present.
func (c *Conversation) PeerOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Conversation) presenceLost(realtime.Status) {
	c.mu.Lock()
	c.presence = make(map[string]int)
	was := c.online
	c.online = false
	c.mu.Unlock()
	if was {
		c.bus.Emit(bus.ChatPeerPresence, PresenceChange{ConversationID: c.id, Online: false})
	}
}
