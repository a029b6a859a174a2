package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/realtime"
	"github.com/matheus3301/duet/internal/realtime/realtimetest"
	"github.com/matheus3301/duet/internal/sched/schedtest"
)

// fakeStore is an in-memory message table. When gate is set, calls block
// until it is closed.
type fakeStore struct {
	mu        sync.Mutex
	rows      []Message
	inserts   []NewMessage
	cursors   []time.Time
	insertErr error
	listErr   error
	gate      chan struct{}
	nextID    int
	now       time.Time
}

func (s *fakeStore) wait() {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (s *fakeStore) InsertMessage(_ context.Context, m NewMessage) (Message, error) {
	s.mu.Lock()
	s.inserts = append(s.inserts, m)
	s.mu.Unlock()
	s.wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return Message{}, s.insertErr
	}
	s.nextID++
	row := Message{
		ID:             fmt.Sprintf("srv-%d", s.nextID),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		ClientID:       m.ClientID,
		CreatedAt:      s.now,
	}
	s.rows = append(s.rows, row)
	return row, nil
}

func (s *fakeStore) ListMessages(_ context.Context, conversationID string, before time.Time, limit int) ([]Message, error) {
	s.mu.Lock()
	s.cursors = append(s.cursors, before)
	s.mu.Unlock()
	s.wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []Message
	for _, m := range s.rows {
		if m.ConversationID != conversationID {
			continue
		}
		if before.IsZero() || m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var seedBase = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func (s *fakeStore) seed(conv string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.rows = append(s.rows, Message{
			ID:             fmt.Sprintf("m-%02d", i),
			ConversationID: conv,
			SenderID:       "u2",
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      seedBase.Add(time.Duration(i) * time.Minute),
		})
	}
}

func (s *fakeStore) listCalls() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.cursors...)
}

func (s *fakeStore) insertCalls() []NewMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]NewMessage(nil), s.inserts...)
}

type env struct {
	tr    *realtimetest.Transport
	clock *schedtest.Fake
	ctrl  *realtime.Controller
	store *fakeStore
	bus   *bus.Bus
	conv  *Conversation
}

func newEnv(t *testing.T, convID, userID string) *env {
	t.Helper()
	e := &env{
		tr:    realtimetest.NewTransport(),
		clock: schedtest.New(),
		store: &fakeStore{now: seedBase.Add(time.Hour)},
		bus:   bus.New(),
	}
	e.tr.AutoJoin = true
	e.ctrl = realtime.NewController(realtime.NewRegistry(e.tr, nil), e.clock, realtime.DefaultPolicy(), e.bus, nil, nil)
	e.ctrl.Start(context.Background())
	t.Cleanup(e.ctrl.Stop)
	e.conv = NewConversation(convID, userID, DefaultConfig(), Deps{
		Store:      e.store,
		Controller: e.ctrl,
		Scheduler:  e.clock,
		Bus:        e.bus,
	})
	return e
}

// open opens the conversation and waits for all three channels to join.
func (e *env) open(t *testing.T) {
	t.Helper()
	if err := e.conv.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "channels joined", func() bool {
		return e.ctrl.Registry().ConnectionSummary().Joined == 3
	})
}

func (e *env) typingSent() []bool {
	ch := e.tr.Latest(realtime.TypingChannel(e.conv.ID()))
	if ch == nil {
		return nil
	}
	var out []bool
	for _, s := range ch.Sent() {
		out = append(out, s.Payload.(TypingSignal).IsTyping)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendShowsTempThenConfirms(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.gate = make(chan struct{})

	done := make(chan Message, 1)
	go func() {
		m, err := e.conv.Send(context.Background(), "  hello  ", "")
		if err != nil {
			t.Error(err)
		}
		done <- m
	}()

	waitFor(t, "temp entry", func() bool { return len(e.conv.Messages()) == 1 })
	temp := e.conv.Messages()[0]
	if !temp.IsTemp() || temp.Content != "hello" || temp.SenderID != "u1" {
		t.Fatalf("temp entry = %+v", temp)
	}

	close(e.store.gate)
	saved := <-done
	if saved.ID != "srv-1" {
		t.Fatalf("saved id = %q", saved.ID)
	}
	msgs := e.conv.Messages()
	equalIDs(t, msgs, "srv-1")
	if ins := e.store.insertCalls(); len(ins) != 1 || ins[0].ClientID != temp.ID {
		t.Errorf("inserts = %+v, want one with client_id %s", ins, temp.ID)
	}
}

func TestSendFailureRollsBackAndAlerts(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.insertErr = errors.New("row rejected")
	alerts, unsub := e.bus.Subscribe(bus.ChatAlert, 4)
	defer unsub()

	if _, err := e.conv.Send(context.Background(), "hi", ""); err == nil {
		t.Fatal("Send should return the insert error")
	}
	if n := len(e.conv.Messages()); n != 0 {
		t.Errorf("cache has %d entries after rollback", n)
	}
	if a := e.conv.Alerts(); len(a) != 1 || a[0].Action != "send_message" {
		t.Errorf("alerts = %+v", a)
	}
	select {
	case evt := <-alerts:
		if evt.Payload.(bus.Alert).Target != "c1" {
			t.Errorf("alert payload = %+v", evt.Payload)
		}
	default:
		t.Error("no chat.alert event")
	}
	if n := len(e.store.insertCalls()); n != 1 {
		t.Errorf("insert attempts = %d, want 1", n)
	}
}

func TestSendGuards(t *testing.T) {
	tests := []struct {
		name, conv, user, text, media string
	}{
		{"blank text", "c1", "u1", "   ", ""},
		{"no conversation", "", "u1", "hi", ""},
		{"no user", "c1", "", "hi", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.conv, tt.user)
			m, err := e.conv.Send(context.Background(), tt.text, tt.media)
			if err != nil || m.ID != "" {
				t.Fatalf("Send = %+v, %v, want no-op", m, err)
			}
			if len(e.store.insertCalls()) != 0 || len(e.conv.Messages()) != 0 {
				t.Error("guarded send touched the store or cache")
			}
		})
	}
}

func TestSendMediaWithoutText(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	m, err := e.conv.Send(context.Background(), "", "https://cdn.example/p.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if m.MediaURL != "https://cdn.example/p.jpg" {
		t.Errorf("media = %q", m.MediaURL)
	}
}

func TestOwnEchoReplacesTempEntry(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.open(t)
	e.store.mu.Lock()
	e.store.gate = make(chan struct{})
	e.store.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_, _ = e.conv.Send(context.Background(), "hello", "")
		close(done)
	}()
	waitFor(t, "temp entry", func() bool { return len(e.conv.Messages()) == 1 })
	temp := e.conv.Messages()[0]

	e.tr.Latest(realtime.MessagesChannel("c1")).Insert(Message{
		ID: "srv-1", ConversationID: "c1", SenderID: "u1", Content: "hello", ClientID: temp.ID, CreatedAt: seedBase,
	})
	equalIDs(t, e.conv.Messages(), "srv-1")

	close(e.store.gate)
	<-done
	equalIDs(t, e.conv.Messages(), "srv-1")
}

func TestRemoteInsert(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.seed("c1", 2)
	e.open(t)
	ch := e.tr.Latest(realtime.MessagesChannel("c1"))

	if f := ch.Filters(); len(f) != 1 || f[0].Filter != "conversation_id=eq.c1" || f[0].Table != "messages" {
		t.Fatalf("insert filters = %+v", f)
	}

	remote := Message{ID: "m-99", ConversationID: "c1", SenderID: "u2", Content: "hey", CreatedAt: seedBase.Add(time.Hour)}
	ch.Insert(remote)
	ch.Insert(remote)
	ch.Insert(Message{ID: "x-1", ConversationID: "other"})

	equalIDs(t, e.conv.Messages(), "m-99", "m-01", "m-00")
}

func TestPaginationStopsAfterShortPage(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.seed("c1", 45)
	ctx := context.Background()

	if err := e.conv.LoadInitial(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(e.conv.Messages()); n != 20 || !e.conv.HasMore() {
		t.Fatalf("after initial: %d entries, hasMore=%v", n, e.conv.HasMore())
	}
	if err := e.conv.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(e.conv.Messages()); n != 40 || !e.conv.HasMore() {
		t.Fatalf("after page 2: %d entries, hasMore=%v", n, e.conv.HasMore())
	}
	if err := e.conv.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(e.conv.Messages()); n != 45 || e.conv.HasMore() {
		t.Fatalf("after page 3: %d entries, hasMore=%v", n, e.conv.HasMore())
	}
	if err := e.conv.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}

	cursors := e.store.listCalls()
	if len(cursors) != 3 {
		t.Fatalf("list calls = %d, want 3", len(cursors))
	}
	want := []time.Time{{}, seedBase.Add(25 * time.Minute), seedBase.Add(5 * time.Minute)}
	for i := range want {
		if !cursors[i].Equal(want[i]) {
			t.Errorf("cursor[%d] = %v, want %v", i, cursors[i], want[i])
		}
	}

	msgs := e.conv.Messages()
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}

func TestPaginationExactMultiple(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.seed("c1", 40)
	ctx := context.Background()

	_ = e.conv.LoadInitial(ctx)
	_ = e.conv.LoadMore(ctx)
	if !e.conv.HasMore() {
		t.Fatal("full page should leave hasMore set")
	}
	_ = e.conv.LoadMore(ctx)
	if e.conv.HasMore() {
		t.Fatal("empty page should clear hasMore")
	}
	_ = e.conv.LoadMore(ctx)
	if n := len(e.store.listCalls()); n != 3 {
		t.Errorf("list calls = %d, want 3", n)
	}
}

func TestConcurrentLoadsCoalesce(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.seed("c1", 30)
	e.store.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- e.conv.LoadMore(context.Background()) }()
	waitFor(t, "request in flight", func() bool { return len(e.store.listCalls()) == 1 })

	if err := e.conv.LoadMore(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(e.store.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := len(e.store.listCalls()); n != 1 {
		t.Errorf("list calls = %d, want 1", n)
	}
}

func TestLoadErrorKeepsCursor(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.listErr = errors.New("timeout")
	if err := e.conv.LoadInitial(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !e.conv.HasMore() {
		t.Error("failed load should not clear hasMore")
	}
	e.store.mu.Lock()
	e.store.listErr = nil
	e.store.mu.Unlock()
	if err := e.conv.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestTypingDebounce(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.open(t)
	ctx := context.Background()

	for i, text := range []string{"h", "he", "hel", "hell"} {
		if i > 0 {
			e.clock.Advance(500 * time.Millisecond)
		}
		e.conv.Typing(ctx, text)
	}
	if got := e.typingSent(); len(got) != 1 || !got[0] {
		t.Fatalf("signals by 1500ms = %v, want [true]", got)
	}

	e.clock.Advance(499 * time.Millisecond)
	if got := e.typingSent(); len(got) != 1 {
		t.Fatalf("signals by 1999ms = %v", got)
	}
	e.clock.Advance(time.Millisecond)
	if got := e.typingSent(); len(got) != 2 || got[1] {
		t.Fatalf("signals by 2000ms = %v, want [true false]", got)
	}

	e.conv.Typing(ctx, "hello")
	if got := e.typingSent(); len(got) != 3 || !got[2] {
		t.Fatalf("keystroke after idle = %v, want a new true", got)
	}
}

func TestClearingTextSendsFalseImmediately(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.open(t)
	ctx := context.Background()

	e.conv.Typing(ctx, "abc")
	e.conv.Typing(ctx, "")
	if got := e.typingSent(); len(got) != 2 || got[1] {
		t.Fatalf("signals = %v, want [true false]", got)
	}
	if e.clock.Pending() != 0 {
		t.Errorf("idle timer still pending")
	}
	e.clock.Advance(5 * time.Second)
	if got := e.typingSent(); len(got) != 2 {
		t.Errorf("extra signal after clear: %v", got)
	}

	e.conv.Typing(ctx, "")
	if got := e.typingSent(); len(got) != 2 {
		t.Errorf("clearing an idle box sent %v", got)
	}
}

func TestSendClearsTyping(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.open(t)
	ctx := context.Background()

	e.conv.Typing(ctx, "hi")
	if _, err := e.conv.Send(ctx, "hi", ""); err != nil {
		t.Fatal(err)
	}
	if got := e.typingSent(); len(got) != 2 || got[1] {
		t.Fatalf("signals = %v, want [true false]", got)
	}
}

func TestPeerTypingExpires(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.open(t)
	ch := e.tr.Latest(realtime.TypingChannel("c1"))

	ch.Broadcast("typing", TypingSignal{UserID: "u1", IsTyping: true})
	if e.conv.IsPeerTyping() {
		t.Fatal("own signal counted as peer typing")
	}

	ch.Broadcast("typing", TypingSignal{UserID: "u2", IsTyping: true})
	if !e.conv.IsPeerTyping() {
		t.Fatal("peer typing not set")
	}
	e.clock.Advance(2 * time.Second)
	ch.Broadcast("typing", TypingSignal{UserID: "u2", IsTyping: true})
	e.clock.Advance(2500 * time.Millisecond)
	if !e.conv.IsPeerTyping() {
		t.Fatal("refresh did not extend the expiry")
	}
	e.clock.Advance(500 * time.Millisecond)
	if e.conv.IsPeerTyping() {
		t.Fatal("peer typing did not expire after 3s")
	}

	ch.Broadcast("typing", TypingSignal{UserID: "u2", IsTyping: true})
	ch.Broadcast("typing", TypingSignal{UserID: "u2", IsTyping: false})
	if e.conv.IsPeerTyping() {
		t.Fatal("false signal did not clear peer typing")
	}
}

func TestPresenceTracksAndDerivesPeerOnline(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.open(t)
	ch := e.tr.Latest(realtime.PresenceChannel("c1"))

	waitFor(t, "presence tracked", func() bool { return len(ch.Tracked()) == 1 })
	meta := ch.Tracked()[0].(PresenceMeta)
	if meta.UserID != "u1" || meta.OnlineAt == "" {
		t.Errorf("tracked = %+v", meta)
	}

	ch.Presence(realtime.PresenceEvent{Kind: realtime.PresenceSync, State: map[string][]map[string]any{
		"u1": {{"user_id": "u1"}},
	}})
	if e.conv.PeerOnline() {
		t.Fatal("own presence counted as peer")
	}

	ch.Presence(realtime.PresenceEvent{Kind: realtime.PresenceJoin, State: map[string][]map[string]any{
		"u2": {{"user_id": "u2"}},
	}})
	if !e.conv.PeerOnline() {
		t.Fatal("peer join not reflected")
	}

	ch.Presence(realtime.PresenceEvent{Kind: realtime.PresenceLeave, State: map[string][]map[string]any{
		"u2": {{"user_id": "u2"}},
	}})
	if e.conv.PeerOnline() {
		t.Fatal("peer leave not reflected")
	}

	ch.Presence(realtime.PresenceEvent{Kind: realtime.PresenceSync, State: map[string][]map[string]any{
		"u1": {{"user_id": "u1"}},
		"u2": {{"user_id": "u2"}},
	}})
	if !e.conv.PeerOnline() {
		t.Fatal("snapshot with peer not reflected")
	}
}

func TestCloseTearsDown(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.open(t)
	ctx := context.Background()

	e.conv.Typing(ctx, "bye")
	e.conv.PeerTyping("u2", true)
	typing := e.tr.Latest(realtime.TypingChannel("c1"))

	e.conv.Close(ctx)

	sent := typing.Sent()
	if len(sent) != 2 || sent[1].Payload.(TypingSignal).IsTyping {
		t.Errorf("typing signals = %+v, want a final false", sent)
	}
	if s := e.ctrl.Registry().ConnectionSummary(); s.Total() != 0 {
		t.Errorf("registry after close = %+v, want empty", s)
	}
	if e.clock.Pending() != 0 {
		t.Errorf("pending timers after close = %d", e.clock.Pending())
	}
	if e.conv.IsPeerTyping() || e.conv.IsTyping() {
		t.Error("typing state survived close")
	}
}

func TestRejoinCatchesUpMissedMessages(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.seed("c1", 2)
	e.open(t)

	e.store.mu.Lock()
	e.store.rows = append(e.store.rows, Message{ID: "late", ConversationID: "c1", CreatedAt: seedBase.Add(time.Hour)})
	e.store.mu.Unlock()

	e.tr.Latest(realtime.MessagesChannel("c1")).Report(realtime.StatusChannelError, errors.New("socket lost"))
	waitFor(t, "retry scheduled", func() bool { return e.clock.Pending() == 1 })
	e.clock.Advance(time.Second)

	waitFor(t, "catch-up", func() bool {
		msgs := e.conv.Messages()
		return len(msgs) == 3 && msgs[0].ID == "late"
	})
}

func TestCloseDuringCatchUpLeavesCacheAlone(t *testing.T) {
	e := newEnv(t, "c1", "u1")
	e.store.seed("c1", 2)
	e.open(t)

	e.store.mu.Lock()
	e.store.rows = append(e.store.rows, Message{ID: "late", ConversationID: "c1", CreatedAt: seedBase.Add(time.Hour)})
	gate := make(chan struct{})
	e.store.gate = gate
	e.store.mu.Unlock()

	before := len(e.store.listCalls())
	e.tr.Latest(realtime.MessagesChannel("c1")).Report(realtime.StatusChannelError, errors.New("socket lost"))
	waitFor(t, "retry scheduled", func() bool { return e.clock.Pending() == 1 })
	e.clock.Advance(time.Second)
	waitFor(t, "catch-up started", func() bool { return len(e.store.listCalls()) > before })

	e.conv.Close(context.Background())
	events, unsub := e.bus.Subscribe("chat.", 16)
	defer unsub()
	close(gate)
	time.Sleep(50 * time.Millisecond)

	select {
	case ev := <-events:
		t.Errorf("event after close: %s %+v", ev.Kind, ev.Payload)
	default:
	}
	for _, m := range e.conv.Messages() {
		if m.ID == "late" {
			t.Error("catch-up row applied after close")
		}
	}
}

func TestManagerOpenGetClose(t *testing.T) {
	e := newEnv(t, "unused", "u1")
	m := NewManager("u1", DefaultConfig(), Deps{Store: e.store, Controller: e.ctrl, Scheduler: e.clock, Bus: e.bus})
	ctx := context.Background()

	if _, err := m.Open(ctx, ""); !errors.Is(err, ErrNoConversation) {
		t.Errorf("Open(\"\") error = %v", err)
	}
	c, err := m.Open(ctx, "c7")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := m.Open(ctx, "c7")
	if again != c {
		t.Error("second Open created a new conversation")
	}
	if got, err := m.Get("c7"); err != nil || got != c {
		t.Errorf("Get = %v, %v", got, err)
	}
	waitFor(t, "channels joined", func() bool { return e.ctrl.Registry().ConnectionSummary().Joined == 3 })

	m.CloseAll(ctx)
	if _, err := m.Get("c7"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Get after close error = %v", err)
	}
	if s := e.ctrl.Registry().ConnectionSummary(); s.Total() != 0 {
		t.Errorf("registry = %+v, want empty", s)
	}

	if _, err := NewManager("", DefaultConfig(), Deps{}).Open(ctx, "c1"); !errors.Is(err, ErrNoUser) {
		t.Errorf("Open without user error = %v", err)
	}
}
