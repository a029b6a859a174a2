package socket

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/matheus3301/duet/internal/realtime"
	"github.com/matheus3301/duet/internal/sched"
	"go.uber.org/zap"
)

type insertHandler struct {
	filter realtime.InsertFilter
	fn     func([]byte)
}

// Channel is one topic on the socket. Handlers must be registered before
// Subscribe; after RemoveChannel no callback fires again.
type Channel struct {
	client *Client
	name   string
	topic  string

	mu        sync.Mutex
	status    func(realtime.Status, error)
	broadcast map[string][]func([]byte)
	onPres    []func(realtime.PresenceEvent)
	inserts   []insertHandler
	presence  map[string][]map[string]any
	joinRef   string
	joinTimer sched.Task
	joining   bool
	joined    bool
	left      bool
}

func (ch *Channel) Topic() string {
	return ch.topic
}

func (ch *Channel) OnBroadcast(event string, fn func([]byte)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.broadcast[event] = append(ch.broadcast[event], fn)
}

func (ch *Channel) OnPresence(fn func(realtime.PresenceEvent)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onPres = append(ch.onPres, fn)
}

func (ch *Channel) OnInsert(filter realtime.InsertFilter, fn func([]byte)) {
	if filter.Schema == "" {
		filter.Schema = "public"
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.inserts = append(ch.inserts, insertHandler{filter: filter, fn: fn})
}

// Subscribe joins the topic in the background and reports the outcome to fn.
func (ch *Channel) Subscribe(fn func(realtime.Status, error)) {
	ch.mu.Lock()
	if ch.left {
		ch.mu.Unlock()
		return
	}
	ch.status = fn
	ch.mu.Unlock()
	go ch.client.join(ch)
}

// Send pushes a broadcast to the other members of the topic.
func (ch *Channel) Send(ctx context.Context, event string, payload any) error {
	joinRef, ok := ch.joinedRef()
	if !ok {
		return fmt.Errorf("send %s on %s: %w", event, ch.topic, ErrNotJoined)
	}
	body, err := json.Marshal(envelope{Type: eventBroadcast, Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode broadcast %s: %w", event, err)
	}
	return ch.client.send(ctx, frame{Topic: ch.topic, Event: eventBroadcast, Payload: body, Ref: ch.client.nextRef(), JoinRef: joinRef})
}

// Track publishes this client's presence payload under the configured key.
func (ch *Channel) Track(ctx context.Context, payload any) error {
	joinRef, ok := ch.joinedRef()
	if !ok {
		return fmt.Errorf("track on %s: %w", ch.topic, ErrNotJoined)
	}
	body, err := json.Marshal(envelope{Type: eventPresence, Event: "track", Payload: payload})
	if err != nil {
		return fmt.Errorf("encode presence track: %w", err)
	}
	return ch.client.send(ctx, frame{Topic: ch.topic, Event: eventPresence, Payload: body, Ref: ch.client.nextRef(), JoinRef: joinRef})
}

// PresenceState returns a copy of the current presence map.
func (ch *Channel) PresenceState() map[string][]map[string]any {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return copyPresence(ch.presence)
}

func (ch *Channel) joinedRef() (string, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinRef, ch.joined && !ch.left
}

func (ch *Channel) currentJoinRef() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinRef
}

func (ch *Channel) joinPayload(cfg Config) joinPayload {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	changes := make([]postgresChange, 0, len(ch.inserts))
	for _, h := range ch.inserts {
		changes = append(changes, postgresChange{Event: "INSERT", Schema: h.filter.Schema, Table: h.filter.Table, Filter: h.filter.Filter})
	}
	return joinPayload{
		Config: joinConfig{
			Broadcast:       broadcastConfig{Self: false},
			Presence:        presenceConfig{Key: cfg.PresenceKey},
			PostgresChanges: changes,
		},
		AccessToken: cfg.AccessToken,
	}
}

// startJoin records the pending join. Returns false if the channel was
// removed while dialing.
func (ch *Channel) startJoin(ref string, timer sched.Task) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.left {
		timer.Stop()
		return false
	}
	ch.joinRef = ref
	ch.joinTimer = timer
	ch.joining = true
	return true
}

func (ch *Channel) joinReply(r reply) {
	ch.mu.Lock()
	if ch.joinTimer != nil {
		ch.joinTimer.Stop()
		ch.joinTimer = nil
	}
	if ch.left || !ch.joining {
		ch.mu.Unlock()
		return
	}
	ch.joining = false
	fn := ch.status
	if r.Status == "ok" {
		ch.joined = true
		ch.mu.Unlock()
		if fn != nil {
			fn(realtime.StatusSubscribed, nil)
		}
		return
	}
	ch.mu.Unlock()
	ch.client.forget(ch)
	if fn != nil {
		fn(realtime.StatusChannelError, r.err())
	}
}

// fail reports a terminal status unless the channel has been removed.
func (ch *Channel) fail(s realtime.Status, err error) {
	ch.mu.Lock()
	if ch.left {
		ch.mu.Unlock()
		return
	}
	if ch.joinTimer != nil {
		ch.joinTimer.Stop()
		ch.joinTimer = nil
	}
	ch.joined = false
	ch.joining = false
	fn := ch.status
	ch.mu.Unlock()
	if fn != nil {
		fn(s, err)
	}
}

// leave marks the channel removed and returns whether a phx_leave is owed.
func (ch *Channel) leave() (joinRef string, wasJoined bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.joinTimer != nil {
		ch.joinTimer.Stop()
		ch.joinTimer = nil
	}
	wasJoined = ch.joined && !ch.left
	ch.left = true
	ch.joined = false
	ch.joining = false
	return ch.joinRef, wasJoined
}

func (ch *Channel) deliverBroadcast(raw []byte) {
	var msg broadcastMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		ch.client.logger.Warn("malformed broadcast", zap.String("topic", ch.topic), zap.Error(err))
		return
	}
	ch.mu.Lock()
	handlers := append([]func([]byte){}, ch.broadcast[msg.Event]...)
	left := ch.left
	ch.mu.Unlock()
	if left {
		return
	}
	for _, fn := range handlers {
		fn(msg.Payload)
	}
}

func (ch *Channel) deliverChange(raw []byte) {
	var msg changeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		ch.client.logger.Warn("malformed postgres change", zap.String("topic", ch.topic), zap.Error(err))
		return
	}
	if msg.Data.Type != "INSERT" {
		return
	}
	ch.mu.Lock()
	var handlers []func([]byte)
	for _, h := range ch.inserts {
		if h.filter.Table == msg.Data.Table && h.filter.Schema == msg.Data.Schema {
			handlers = append(handlers, h.fn)
		}
	}
	left := ch.left
	ch.mu.Unlock()
	if left {
		return
	}
	for _, fn := range handlers {
		fn(msg.Data.Record)
	}
}

func (ch *Channel) presenceState(raw []byte) {
	var state map[string]presenceEntry
	if err := json.Unmarshal(raw, &state); err != nil {
		ch.client.logger.Warn("malformed presence state", zap.String("topic", ch.topic), zap.Error(err))
		return
	}
	ch.mu.Lock()
	ch.presence = make(map[string][]map[string]any, len(state))
	for key, entry := range state {
		ch.presence[key] = entry.Metas
	}
	snapshot := copyPresence(ch.presence)
	ch.mu.Unlock()
	ch.emitPresence(realtime.PresenceEvent{Kind: realtime.PresenceSync, State: snapshot})
}

func (ch *Channel) presenceDiff(raw []byte) {
	var diff presenceDiff
	if err := json.Unmarshal(raw, &diff); err != nil {
		ch.client.logger.Warn("malformed presence diff", zap.String("topic", ch.topic), zap.Error(err))
		return
	}
	joins := make(map[string][]map[string]any, len(diff.Joins))
	leaves := make(map[string][]map[string]any, len(diff.Leaves))

	ch.mu.Lock()
	for key, entry := range diff.Joins {
		ch.presence[key] = append(ch.presence[key], entry.Metas...)
		joins[key] = entry.Metas
	}
	for key, entry := range diff.Leaves {
		remaining := withoutRefs(ch.presence[key], entry.Metas)
		if len(remaining) == 0 {
			delete(ch.presence, key)
		} else {
			ch.presence[key] = remaining
		}
		leaves[key] = entry.Metas
	}
	ch.mu.Unlock()

	if len(joins) > 0 {
		ch.emitPresence(realtime.PresenceEvent{Kind: realtime.PresenceJoin, State: joins})
	}
	if len(leaves) > 0 {
		ch.emitPresence(realtime.PresenceEvent{Kind: realtime.PresenceLeave, State: leaves})
	}
}

func (ch *Channel) emitPresence(evt realtime.PresenceEvent) {
	ch.mu.Lock()
	handlers := append([]func(realtime.PresenceEvent){}, ch.onPres...)
	left := ch.left
	ch.mu.Unlock()
	if left {
		return
	}
	for _, fn := range handlers {
		fn(evt)
	}
}

// withoutRefs drops the metas whose phx_ref appears in gone. Metas without a
// phx_ref are all dropped.
func withoutRefs(metas, gone []map[string]any) []map[string]any {
	refs := make(map[any]bool, len(gone))
	for _, m := range gone {
		if ref, ok := m["phx_ref"]; ok {
			refs[ref] = true
		}
	}
	if len(refs) == 0 {
		return nil
	}
	var out []map[string]any
	for _, m := range metas {
		if ref, ok := m["phx_ref"]; ok && refs[ref] {
			continue
		}
		out = append(out, m)
	}
	return out
}

func copyPresence(in map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(in))
	for k, v := range in {
		out[k] = append([]map[string]any(nil), v...)
	}
	return out
}
