// Package socket implements realtime.Transport over the platform's
// Phoenix-channel websocket.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/duet/internal/realtime"
	"github.com/matheus3301/duet/internal/sched"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256

	DefaultHeartbeat   = 25 * time.Second
	DefaultJoinTimeout = 10 * time.Second
)

var (
	ErrNotJoined        = errors.New("realtime channel not joined")
	ErrNotConnected     = errors.New("realtime socket not connected")
	ErrClosed           = errors.New("realtime socket closed")
	errJoinTimeout      = errors.New("no reply to join")
	errHeartbeatTimeout = errors.New("heartbeat not acknowledged")
)

// Config configures a Client.
type Config struct {
	// Endpoint is the full websocket URL, see Endpoint.
	Endpoint    string
	AccessToken string
	// PresenceKey identifies this client in presence state, normally the user id.
	PresenceKey       string
	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
	Scheduler         sched.Scheduler
	Dialer            *websocket.Dialer
}

// Client multiplexes channels over one lazily dialed websocket. When the
// socket drops every channel on it reports CHANNEL_ERROR and the next join
// dials again.
type Client struct {
	cfg    Config
	logger *zap.Logger

	dialMu sync.Mutex

	mu      sync.Mutex
	conn    *conn
	topics  map[string]*Channel
	replies map[string]func(reply)
	ref     uint64
	closed  bool

	wg sync.WaitGroup
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	heartbeatRef string // guarded by Client.mu
}

func (cn *conn) close() {
	cn.once.Do(func() {
		close(cn.done)
		_ = cn.ws.Close()
	})
}

// New creates a client. Nothing is dialed until the first channel subscribes.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeat
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched.Real()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		topics:  make(map[string]*Channel),
		replies: make(map[string]func(reply)),
	}
}

// Channel creates an unjoined channel for name. It is registered with the
// socket only when Subscribe is called.
func (c *Client) Channel(name string) realtime.Channel {
	return &Channel{
		client:    c,
		name:      name,
		topic:     topicPrefix + name,
		broadcast: make(map[string][]func([]byte)),
		presence:  make(map[string][]map[string]any),
	}
}

// RemoveChannel leaves the channel and stops all of its callbacks.
func (c *Client) RemoveChannel(rc realtime.Channel) error {
	ch, ok := rc.(*Channel)
	if !ok {
		return fmt.Errorf("channel %T does not belong to this transport", rc)
	}
	joinRef, wasJoined := ch.leave()

	c.mu.Lock()
	if c.topics[ch.topic] == ch {
		delete(c.topics, ch.topic)
	}
	cn := c.conn
	c.mu.Unlock()

	if !wasJoined || cn == nil {
		return nil
	}
	f := frame{Topic: ch.topic, Event: eventLeave, Payload: json.RawMessage(`{}`), Ref: c.nextRef(), JoinRef: joinRef}
	if err := c.enqueue(context.Background(), cn, f); err != nil {
		return fmt.Errorf("leave %s: %w", ch.topic, err)
	}
	return nil
}

// Close shuts the socket down. Channels are not notified.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	cn := c.conn
	c.conn = nil
	c.topics = make(map[string]*Channel)
	c.replies = make(map[string]func(reply))
	c.mu.Unlock()

	if cn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		_ = cn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		cn.close()
	}
	c.wg.Wait()
	return nil
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRefLocked()
}

func (c *Client) nextRefLocked() string {
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}

func (c *Client) connect(ctx context.Context) (*conn, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		cn := c.conn
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	ws, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime socket: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime socket: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)
	cn := &conn{ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cn.close()
		return nil, ErrClosed
	}
	c.conn = cn
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readPump(cn)
	go c.writePump(cn)
	c.logger.Info("realtime socket connected")
	return cn, nil
}

// send queues f on the current connection.
func (c *Client) send(ctx context.Context, f frame) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}
	return c.enqueue(ctx, cn, f)
}

func (c *Client) enqueue(ctx context.Context, cn *conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Event, err)
	}
	select {
	case cn.send <- data:
		return nil
	case <-cn.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readPump(cn *conn) {
	defer c.wg.Done()
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			c.drop(cn, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed realtime frame", zap.Error(err))
			continue
		}
		c.route(f)
	}
}

func (c *Client) writePump(cn *conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.drop(cn, err)
				return
			}
		case <-ticker.C:
			if err := c.heartbeat(cn); err != nil {
				c.drop(cn, err)
				return
			}
		case <-cn.done:
			return
		}
	}
}

// heartbeat writes a heartbeat, failing if the previous one went unanswered.
func (c *Client) heartbeat(cn *conn) error {
	c.mu.Lock()
	if cn.heartbeatRef != "" {
		c.mu.Unlock()
		return errHeartbeatTimeout
	}
	ref := c.nextRefLocked()
	cn.heartbeatRef = ref
	c.mu.Unlock()

	data, err := json.Marshal(frame{Topic: topicPhoenix, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: ref})
	if err != nil {
		return err
	}
	_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cn.ws.WriteMessage(websocket.TextMessage, data)
}

// drop tears down cn and fails every channel that was on it.
func (c *Client) drop(cn *conn, cause error) {
	cn.close()

	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	channels := make([]*Channel, 0, len(c.topics))
	for _, ch := range c.topics {
		channels = append(channels, ch)
	}
	c.topics = make(map[string]*Channel)
	c.replies = make(map[string]func(reply))
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	c.logger.Warn("realtime socket lost", zap.Int("channels", len(channels)), zap.Error(cause))
	for _, ch := range channels {
		ch.fail(realtime.StatusChannelError, fmt.Errorf("socket lost: %w", cause))
	}
}

func (c *Client) route(f frame) {
	c.mu.Lock()
	if f.Topic == topicPhoenix {
		if c.conn != nil && f.Event == eventReply && f.Ref == c.conn.heartbeatRef {
			c.conn.heartbeatRef = ""
		}
		c.mu.Unlock()
		return
	}
	var onReply func(reply)
	if f.Event == eventReply && f.Ref != "" {
		onReply = c.replies[f.Ref]
		delete(c.replies, f.Ref)
	}
	ch := c.topics[f.Topic]
	c.mu.Unlock()

	if f.Event == eventReply {
		if onReply != nil {
			var r reply
			if err := json.Unmarshal(f.Payload, &r); err != nil {
				r = reply{Status: "error", Response: f.Payload}
			}
			onReply(r)
		}
		return
	}
	if ch == nil {
		c.logger.Debug("frame for unknown topic", zap.String("topic", f.Topic), zap.String("event", f.Event))
		return
	}
	if f.JoinRef != "" && f.JoinRef != ch.currentJoinRef() {
		return
	}

	switch f.Event {
	case eventClose:
		c.forget(ch)
		ch.fail(realtime.StatusClosed, nil)
	case eventError:
		c.forget(ch)
		ch.fail(realtime.StatusChannelError, errors.New("server reported channel error"))
	case eventBroadcast:
		ch.deliverBroadcast(f.Payload)
	case eventPresenceState:
		ch.presenceState(f.Payload)
	case eventPresenceDiff:
		ch.presenceDiff(f.Payload)
	case eventPostgresChanges:
		ch.deliverChange(f.Payload)
	default:
		c.logger.Debug("unhandled realtime event", zap.String("topic", f.Topic), zap.String("event", f.Event))
	}
}

func (c *Client) forget(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics[ch.topic] == ch {
		delete(c.topics, ch.topic)
	}
}

// join dials if needed and pushes phx_join. The outcome is reported through
// the channel's subscribe callback exactly once.
func (c *Client) join(ch *Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JoinTimeout)
	defer cancel()

	cn, err := c.connect(ctx)
	if err != nil {
		ch.fail(realtime.StatusChannelError, err)
		return
	}

	payload, err := json.Marshal(ch.joinPayload(c.cfg))
	if err != nil {
		ch.fail(realtime.StatusChannelError, fmt.Errorf("encode join: %w", err))
		return
	}

	c.mu.Lock()
	ref := c.nextRefLocked()
	c.topics[ch.topic] = ch
	c.replies[ref] = ch.joinReply
	c.mu.Unlock()

	if !ch.startJoin(ref, c.cfg.Scheduler.AfterFunc(c.cfg.JoinTimeout, func() { c.joinTimedOut(ch, ref) })) {
		c.cancelJoin(ch, ref)
		return
	}

	f := frame{Topic: ch.topic, Event: eventJoin, Payload: payload, Ref: ref, JoinRef: ref}
	if err := c.enqueue(ctx, cn, f); err != nil {
		c.cancelJoin(ch, ref)
		ch.fail(realtime.StatusChannelError, fmt.Errorf("push join: %w", err))
	}
}

func (c *Client) cancelJoin(ch *Channel, ref string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, pending := c.replies[ref]; !pending {
		return false
	}
	delete(c.replies, ref)
	if c.topics[ch.topic] == ch {
		delete(c.topics, ch.topic)
	}
	return true
}

func (c *Client) joinTimedOut(ch *Channel, ref string) {
	if !c.cancelJoin(ch, ref) {
		return
	}
	c.logger.Warn("realtime join timed out", zap.String("topic", ch.topic), zap.Duration("timeout", c.cfg.JoinTimeout))
	ch.fail(realtime.StatusTimedOut, errJoinTimeout)
}
