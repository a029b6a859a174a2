package chat

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/realtime"
	"go.uber.org/zap"
)

const typingEvent = "typing"

// Typing reports the current contents of the compose box. The first
// keystroke after idle broadcasts is_typing=true; later keystrokes send
// nothing. An automatic false follows TypingIdle after the true signal, and
// clearing the box sends false at once.
func (c *Conversation) Typing(ctx context.Context, text string) {
	if c.id == "" || c.userID == "" {
		return
	}

	c.mu.Lock()
	if strings.TrimSpace(text) == "" {
		was := c.typingSent
		c.typingSent = false
		c.typingGen++
		c.typingIdle.Clear()
		c.mu.Unlock()
		if was {
			c.signal(ctx, false)
		}
		return
	}
	if c.typingSent {
		c.mu.Unlock()
		return
	}
	c.typingSent = true
	c.typingGen++
	gen := c.typingGen
	c.typingIdle.Set(c.sched.AfterFunc(c.cfg.TypingIdle, func() { c.typingIdleElapsed(gen) }))
	c.mu.Unlock()

	c.signal(ctx, true)
}

func (c *Conversation) typingIdleElapsed(gen int) {
	c.mu.Lock()
	if gen != c.typingGen || !c.typingSent {
		c.mu.Unlock()
		return
	}
	c.typingSent = false
	c.typingIdle.Clear()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	c.signal(ctx, false)
}

// signal broadcasts on the typing channel if it is joined.
func (c *Conversation) signal(ctx context.Context, typing bool) {
	h := c.ctrl.Registry().Lookup(realtime.TypingChannel(c.id))
	if h == nil || h.State() != realtime.StateJoined {
		c.logger.Debug("typing channel not joined, signal dropped", zap.Bool("typing", typing))
		return
	}
	if err := h.Channel().Send(ctx, typingEvent, TypingSignal{UserID: c.userID, IsTyping: typing}); err != nil {
		c.logger.Warn("failed to send typing signal", zap.Bool("typing", typing), zap.Error(err))
	}
}

// IsTyping reports whether the last signal sent was true.
func (c *Conversation) IsTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typingSent
}

func (c *Conversation) setupTyping(ch realtime.Channel) {
	ch.OnBroadcast(typingEvent, func(payload []byte) {
		var sig TypingSignal
		if err := json.Unmarshal(payload, &sig); err != nil {
			c.logger.Warn("malformed typing signal", zap.Error(err))
			return
		}
		if sig.UserID == c.userID {
			return
		}
		c.PeerTyping(sig.UserID, sig.IsTyping)
	})
}

// PeerTyping applies a typing signal from the other participant. A true
// signal expires after TypingExpiry unless refreshed; false clears at once.
func (c *Conversation) PeerTyping(userID string, typing bool) {
	c.mu.Lock()
	c.peerGen++
	gen := c.peerGen
	changed := c.peerTyping != typing
	c.peerTyping = typing
	if typing {
		c.peerExpiry.Set(c.sched.AfterFunc(c.cfg.TypingExpiry, func() { c.peerTypingExpired(gen, userID) }))
	} else {
		c.peerExpiry.Clear()
	}
	c.mu.Unlock()

	if changed {
		c.bus.Emit(bus.ChatPeerTyping, PeerTypingChange{ConversationID: c.id, UserID: userID, Typing: typing})
	}
}

func (c *Conversation) peerTypingExpired(gen int, userID string) {
	c.mu.Lock()
	if gen != c.peerGen || !c.peerTyping {
		c.mu.Unlock()
		return
	}
	c.peerTyping = false
	c.peerExpiry.Clear()
	c.mu.Unlock()
	c.bus.Emit(bus.ChatPeerTyping, PeerTypingChange{ConversationID: c.id, UserID: userID, Typing: false})
}

// IsPeerTyping reports whether the other participant is typing.
func (c *Conversation) IsPeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

func (c *Conversation) typingLost(realtime.Status) {
	c.mu.Lock()
	was := c.peerTyping
	c.peerTyping = false
	c.peerGen++
	c.peerExpiry.Clear()
	c.mu.Unlock()
	if was {
		c.bus.Emit(bus.ChatPeerTyping, PeerTypingChange{ConversationID: c.id, Typing: false})
	}
}
