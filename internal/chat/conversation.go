package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/realtime"
	"github.com/matheus3301/duet/internal/sched"
	"go.uber.org/zap"
)

// signalTimeout bounds typing and presence pushes made from timers and callbacks.
const signalTimeout = 5 * time.Second

// Config tunes pagination and typing timers.
type Config struct {
	PageSize     int
	TypingIdle   time.Duration
	TypingExpiry time.Duration
}

// DefaultConfig returns pages of 20, a 2s typing idle and a 3s peer expiry.
func DefaultConfig() Config {
	return Config{PageSize: 20, TypingIdle: 2 * time.Second, TypingExpiry: 3 * time.Second}
}

// Deps are the collaborators shared by every conversation.
type Deps struct {
	Store      Store
	Controller *realtime.Controller
	Scheduler  sched.Scheduler
	Bus        *bus.Bus
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Conversation is the open state of one conversation: its message cache,
// pagination cursor, typing timers and presence view.
type Conversation struct {
	id     string
	userID string
	cfg    Config

	store   Store
	ctrl    *realtime.Controller
	sched   sched.Scheduler
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu         sync.Mutex
	messages   []Message
	loaded     bool
	hasMore    bool
	loading    bool
	alerts     []bus.Alert
	open       bool
	joinedOnce bool
	// life is cancelled by Close so background work started while open stops.
	life     context.Context
	stopLife context.CancelFunc

	typingSent bool
	typingGen  int
	typingIdle sched.Slot

	peerTyping bool
	peerGen    int
	peerExpiry sched.Slot

	presence map[string]int
	online   bool
}

// NewConversation creates a closed conversation for userID.
func NewConversation(id, userID string, cfg Config, d Deps) *Conversation {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = def.TypingIdle
	}
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = def.TypingExpiry
	}
	if d.Scheduler == nil {
		d.Scheduler = sched.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Conversation{
		id:       id,
		userID:   userID,
		cfg:      cfg,
		store:    d.Store,
		ctrl:     d.Controller,
		sched:    d.Scheduler,
		bus:      d.Bus,
		metrics:  d.Metrics,
		logger:   d.Logger.With(zap.String("conversation", id)),
		hasMore:  true,
		presence: make(map[string]int),
	}
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	return c.id
}

// Open subscribes the conversation's channels and loads the newest page.
func (c *Conversation) Open(ctx context.Context) error {
	if c.id == "" || c.userID == "" {
		c.logger.Warn("open skipped: missing conversation or user id")
		return nil
	}
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = true
	c.life, c.stopLife = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.ctrl.SubscribeWithReconnect(realtime.MessagesChannel(c.id), realtime.Subscription{
		Setup:        c.setupMessages,
		OnConnect:    c.messagesJoined,
		OnDisconnect: c.channelLost(realtime.MessagesChannel(c.id)),
	})
	c.ctrl.SubscribeWithReconnect(realtime.TypingChannel(c.id), realtime.Subscription{
		Setup:        c.setupTyping,
		OnDisconnect: c.typingLost,
	})
	c.ctrl.SubscribeWithReconnect(realtime.PresenceChannel(c.id), realtime.Subscription{
		Setup:        c.setupPresence,
		OnConnect:    c.trackPresence,
		OnDisconnect: c.presenceLost,
	})
	return c.LoadInitial(ctx)
}

// Close sends a final not-typing signal if needed, cancels every timer and
// unsubscribes the conversation's channels.
func (c *Conversation) Close(ctx context.Context) {
	c.mu.Lock()
	wasTyping := c.typingSent
	c.typingSent = false
	c.typingGen++
	c.typingIdle.Clear()
	c.peerGen++
	c.peerExpiry.Clear()
	c.peerTyping = false
	c.open = false
	if c.stopLife != nil {
		c.stopLife()
		c.stopLife = nil
	}
	c.mu.Unlock()

	if wasTyping {
		c.signal(ctx, false)
	}
	for _, name := range []string{
		realtime.MessagesChannel(c.id),
		realtime.TypingChannel(c.id),
		realtime.PresenceChannel(c.id),
	} {
		c.ctrl.Unsubscribe(name)
	}
	c.logger.Info("conversation closed")
}

// Send shows text immediately under a temporary id, then inserts it. On
// failure the entry is removed and an alert raised; nothing is retried.
// Returns the zero Message without error when there is nothing to send.
func (c *Conversation) Send(ctx context.Context, text, mediaURL string) (Message, error) {
	text = strings.TrimSpace(text)
	if c.id == "" || c.userID == "" {
		c.logger.Warn("send skipped: missing conversation or user id")
		return Message{}, nil
	}
	if text == "" && mediaURL == "" {
		return Message{}, nil
	}

	tempID := newTempID()
	temp := Message{
		ID:             tempID,
		ConversationID: c.id,
		SenderID:       c.userID,
		Content:        text,
		MediaURL:       mediaURL,
		ClientID:       tempID,
		CreatedAt:      c.sched.Now(),
	}
	c.apply(OptimisticInsert{Message: temp})
	c.Typing(ctx, "")

	saved, err := c.store.InsertMessage(ctx, NewMessage{
		ConversationID: c.id,
		SenderID:       c.userID,
		Content:        text,
		MediaURL:       mediaURL,
		ClientID:       tempID,
	})
	if err != nil {
		c.apply(RollbackRemove{TempID: tempID})
		c.metrics.MessageSent("rolled_back")
		c.logger.Warn("message send failed, rolled back", zap.String("temp_id", tempID), zap.Error(err))
		c.alert("send_message", "Your message could not be sent.")
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	c.apply(ConfirmReplace{TempID: tempID, Message: saved})
	c.metrics.MessageSent("confirmed")
	c.bus.Emit(bus.ChatConfirmed, Confirmed{ConversationID: c.id, Message: saved})
	return saved, nil
}

// LoadInitial fetches the newest page. It does nothing once a page is loaded.
func (c *Conversation) LoadInitial(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}
	return c.load(ctx, true)
}

// LoadMore fetches the page older than the oldest loaded entry. It does
// nothing while another load is in flight or after a short page.
func (c *Conversation) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	return c.load(ctx, !loaded)
}

func (c *Conversation) load(ctx context.Context, initial bool) error {
	if c.id == "" {
		return nil
	}
	c.mu.Lock()
	if c.loading || (!initial && !c.hasMore) {
		c.mu.Unlock()
		return nil
	}
	var cursor time.Time
	if !initial {
		cursor = c.oldestLocked()
	}
	c.loading = true
	c.mu.Unlock()

	page, err := c.store.ListMessages(ctx, c.id, cursor, c.cfg.PageSize)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("failed to load messages", zap.Time("before", cursor), zap.Error(err))
		return fmt.Errorf("load messages: %w", err)
	}
	c.messages = Reduce(c.messages, PageAppend{Messages: page})
	c.hasMore = len(page) >= c.cfg.PageSize
	c.loaded = true
	hasMore, n := c.hasMore, len(c.messages)
	c.mu.Unlock()

	c.logger.Debug("loaded message page", zap.Int("count", len(page)), zap.Bool("has_more", hasMore))
	c.bus.Emit(bus.ChatPageLoaded, PageLoaded{ConversationID: c.id, Messages: page, Cursor: cursor, HasMore: hasMore})
	c.bus.Emit(bus.ChatCacheChanged, CacheChange{ConversationID: c.id, Messages: n})
	return nil
}

// oldestLocked returns the created_at of the oldest confirmed entry.
func (c *Conversation) oldestLocked() time.Time {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if !c.messages[i].IsTemp() {
			return c.messages[i].CreatedAt
		}
	}
	return time.Time{}
}

// Messages returns a copy of the cache, newest first.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// HasMore reports whether older pages may exist.
func (c *Conversation) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Alerts returns the user-visible failures raised so far.
func (c *Conversation) Alerts() []bus.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bus.Alert(nil), c.alerts...)
}

func (c *Conversation) apply(ev Event) {
	c.mu.Lock()
	c.messages = Reduce(c.messages, ev)
	n := len(c.messages)
	c.mu.Unlock()
	c.bus.Emit(bus.ChatCacheChanged, CacheChange{ConversationID: c.id, Messages: n})
}

func (c *Conversation) alert(action, message string) {
	a := bus.Alert{Action: action, Target: c.id, Message: message}
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	c.bus.Emit(bus.ChatAlert, a)
}

func (c *Conversation) setupMessages(ch realtime.Channel) {
	ch.OnInsert(realtime.InsertFilter{
		Schema: "public",
		Table:  "messages",
		Filter: "conversation_id=eq." + c.id,
	}, c.onInsert)
}

func (c *Conversation) onInsert(record []byte) {
	var m Message
	if err := json.Unmarshal(record, &m); err != nil {
		c.logger.Warn("malformed message insert", zap.Error(err))
		return
	}
	if m.ID == "" || (m.ConversationID != "" && m.ConversationID != c.id) {
		return
	}
	c.remote(m)
}

func (c *Conversation) remote(m Message) {
	c.mu.Lock()
	if !c.open || indexOf(c.messages, m.ID) >= 0 {
		c.mu.Unlock()
		return
	}
	c.messages = Reduce(c.messages, RemoteInsert{Message: m})
	n := len(c.messages)
	c.mu.Unlock()

	c.bus.Emit(bus.ChatRemoteInsert, Remote{ConversationID: c.id, Message: m})
	c.bus.Emit(bus.ChatCacheChanged, CacheChange{ConversationID: c.id, Messages: n})
}

// messagesJoined catches up on rows missed while the channel was down.
func (c *Conversation) messagesJoined() {
	c.mu.Lock()
	rejoin := c.joinedOnce
	c.joinedOnce = true
	life := c.life
	open := c.open
	c.mu.Unlock()
	if !rejoin || !open {
		return
	}
	go c.catchUp(life)
}

func (c *Conversation) catchUp(life context.Context) {
	ctx, cancel := context.WithTimeout(life, 30*time.Second)
	defer cancel()

	c.mu.Lock()
	var newest time.Time
	for _, m := range c.messages {
		if !m.IsTemp() {
			newest = m.CreatedAt
			break
		}
	}
	c.mu.Unlock()

	page, err := c.store.ListMessages(ctx, c.id, time.Time{}, c.cfg.PageSize)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.logger.Warn("catch-up after reconnect failed", zap.Error(err))
		return
	}
	for i := len(page) - 1; i >= 0; i-- {
		if page[i].CreatedAt.After(newest) {
			c.remote(page[i])
		}
	}
}

func (c *Conversation) channelLost(name string) func(realtime.Status) {
	return func(s realtime.Status) {
		c.logger.Info("chat channel dropped", zap.String("channel", name), zap.String("status", string(s)))
	}
}

func newTempID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return TempPrefix + id.String()
}
