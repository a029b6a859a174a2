package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/auth"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/client"
	"github.com/matheus3301/duet/internal/config"
	"github.com/matheus3301/duet/internal/lock"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/sched"
	"github.com/matheus3301/duet/internal/status"
	"github.com/matheus3301/duet/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// shortTempDir keeps socket paths under the 104-char macOS limit.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func openStore(t *testing.T, dir string) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(dir, "duet.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func serve(t *testing.T, socketPath string, register func(*grpc.Server)) *client.Client {
	t.Helper()
	grpcSrv := grpc.NewServer()
	register(grpcSrv)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = grpcSrv.Serve(listener) }()
	t.Cleanup(grpcSrv.Stop)

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir := shortTempDir(t, "duet-test-*")
	sessionName := "test"
	sessionDir := filepath.Join(tmpDir, sessionName)
	socketPath := filepath.Join(sessionDir, "d.sock")

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db := openStore(t, sessionDir)
	b := bus.New()
	machine := status.NewMachine(b)
	acct := &Account{Reason: auth.ErrNoToken}

	c := serve(t, socketPath, func(s *grpc.Server) {
		api.RegisterSessionServer(s, api.NewSessionService(sessionName, acct.UserID(), machine, acct.Controller, db))
		api.RegisterChatServer(s, api.NewChatService(sessionName, acct.Chats, db, b))
		api.RegisterActionServer(s, api.NewActionService(acct.Actions, acct.UserID()))
	})
	ctx := context.Background()

	resp, err := c.Session.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp.Session != sessionName {
		t.Errorf("session = %q, want %q", resp.Session, sessionName)
	}
	if resp.State != string(status.Booting) {
		t.Errorf("state = %s, want BOOTING", resp.State)
	}
	if resp.MessageCount != 0 {
		t.Errorf("message count = %d, want 0", resp.MessageCount)
	}

	// Mirrored history is readable while signed out.
	for i, content := range []string{"hello world", "second"} {
		m := &store.Message{ID: fmt.Sprintf("m%d", i+1), ConversationID: "c1", SenderID: "u2", Content: content, CreatedAt: int64(1000 + i)}
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	list, err := c.Chat.ListMessages(ctx, &api.ListMessagesRequest{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if list.Source != "mirror" || len(list.Messages) != 2 {
		t.Fatalf("ListMessages = %s with %d messages, want mirror with 2", list.Source, len(list.Messages))
	}
	if list.Messages[0].Content != "second" {
		t.Errorf("first message = %q, want newest first", list.Messages[0].Content)
	}

	search, err := c.Chat.Search(ctx, &api.SearchRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("Search error = %v", err)
	}
	if len(search.Results) != 1 || search.Results[0].Snippet != "<<hello>> world" {
		t.Errorf("search results = %+v", search.Results)
	}

	if _, err := c.Chat.Open(ctx, "c1"); grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("Open code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
	if _, err := c.Chat.Send(ctx, &api.SendRequest{ConversationID: "c1", Content: "hi"}); grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("Send code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
	if _, err := c.Action.Perform(ctx, "accept-favor", "f1"); grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("Perform code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
	if _, err := c.Session.Refresh(ctx, ""); grpcstatus.Code(err) != codes.Unavailable {
		t.Errorf("Refresh code = %v, want Unavailable", grpcstatus.Code(err))
	}

	recent, err := c.Action.RecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActions error = %v", err)
	}
	if len(recent.Actions) != 0 {
		t.Errorf("recent actions = %d, want 0", len(recent.Actions))
	}
}

func TestWatchEventsStreamsBusEvents(t *testing.T) {
	tmpDir := shortTempDir(t, "duet-watch-*")
	socketPath := filepath.Join(tmpDir, "d.sock")
	b := bus.New()

	c := serve(t, socketPath, func(s *grpc.Server) {
		api.RegisterChatServer(s, api.NewChatService("test", nil, nil, b))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan *api.EventEnvelope, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Chat.WatchEvents(ctx, []string{"link."}, func(e *api.EventEnvelope) { got <- e })
	}()

	// The subscription is registered asynchronously; keep emitting until one arrives.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	var env *api.EventEnvelope
	for env == nil {
		select {
		case <-tick.C:
			b.Emit(bus.ChatAlert, bus.Alert{Message: "filtered"})
			b.Emit(bus.LinkStatusChanged, status.StatusChange{From: status.Connecting, To: status.Ready})
		case env = <-got:
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}

	if env.Kind != bus.LinkStatusChanged {
		t.Errorf("kind = %q, want %q", env.Kind, bus.LinkStatusChanged)
	}
	if env.Session != "test" || env.EventID == "" {
		t.Errorf("envelope = %+v", env)
	}
	if !strings.Contains(string(env.Payload), "READY") {
		t.Errorf("payload = %s, want the new state", env.Payload)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchEvents returned %v after cancel", err)
	}
}

// TestStatusTransitionsToAuthRequired verifies a signed-out daemon reports
// AUTH_REQUIRED rather than staying in BOOTING.
func TestStatusTransitionsToAuthRequired(t *testing.T) {
	tmpDir := shortTempDir(t, "duet-auth-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	b := bus.New()
	machine := status.NewMachine(b)
	_ = machine.Transition(status.AuthRequired)

	c := serve(t, socketPath, func(s *grpc.Server) {
		api.RegisterSessionServer(s, api.NewSessionService("test", "", machine, nil, nil))
	})

	resp, err := c.Session.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp.State != string(status.AuthRequired) {
		t.Errorf("state = %s, want AUTH_REQUIRED", resp.State)
	}
	if resp.Indicator != "sign-in required" {
		t.Errorf("indicator = %q", resp.Indicator)
	}
}

func signToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject, ExpiresAt: jwt.NewNumericDate(exp)}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewAccount(t *testing.T) {
	db := openStore(t, t.TempDir())
	b := bus.New()

	tests := []struct {
		name     string
		url      string
		token    string
		signedIn bool
	}{
		{"no token", "https://example.supabase.co", "", false},
		{"garbage token", "https://example.supabase.co", "not-a-jwt", false},
		{"expired", "https://example.supabase.co", signToken(t, "u1", time.Now().Add(-time.Hour)), false},
		{"no backend", "", signToken(t, "u1", time.Now().Add(time.Hour)), false},
		{"valid", "https://example.supabase.co", signToken(t, "u1", time.Now().Add(time.Hour)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend.URL = tt.url
			cfg.Backend.AnonKey = "anon"
			cfg.Backend.AccessToken = tt.token

			acct, err := NewAccount(cfg, db, b, metrics.New(), sched.Real(), zap.NewNop())
			if err != nil {
				t.Fatalf("NewAccount() error = %v", err)
			}
			defer func() { _ = acct.Shutdown(context.Background()) }()

			if acct.SignedIn() != tt.signedIn {
				t.Fatalf("SignedIn() = %v, want %v (reason %v)", acct.SignedIn(), tt.signedIn, acct.Reason)
			}
			if !tt.signedIn {
				if acct.Reason == nil {
					t.Error("signed-out account has no reason")
				}
				if acct.UserID() != "" || acct.Snapshot() != nil {
					t.Error("signed-out account exposes a user or links")
				}
				return
			}
			if acct.UserID() != "u1" {
				t.Errorf("UserID() = %q, want u1", acct.UserID())
			}
			if acct.Chats == nil || acct.Actions == nil || acct.Backend == nil {
				t.Error("signed-in account is missing collaborators")
			}
			if len(acct.Snapshot()) != 0 {
				t.Errorf("Snapshot() = %v, want no channels yet", acct.Snapshot())
			}
		})
	}
}

// TestFxModuleWiring starts the whole fx graph signed out and checks the
// daemon answers on its socket and serves metrics.
func TestFxModuleWiring(t *testing.T) {
	tmpDir := shortTempDir(t, "duet-fx-*")
	t.Setenv("DUET_HOME", tmpDir)
	socketPath := filepath.Join(tmpDir, "d.sock")

	cfg := config.Default()
	cfg.MetricsAddr = "127.0.0.1:0"

	var ms *MetricsServer
	app := fx.New(
		Module(Params{SessionName: "fxtest", SocketPath: socketPath, Config: cfg}),
		fx.Populate(&ms),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		t.Fatalf("fx graph error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Session.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp.State != string(status.AuthRequired) {
		t.Errorf("state = %s, want AUTH_REQUIRED", resp.State)
	}

	res, err := http.Get("http://" + ms.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	for _, name := range []string{"duet_realtime_channels_joined", "duet_bus_dropped_events_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}

	if _, err := lock.Acquire(filepath.Join(tmpDir, "sessions", "fxtest")); err == nil {
		t.Error("second lock acquired while the daemon is running")
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("app.Stop() error = %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed on stop: %v", err)
	}
}

func TestNewServerRemovesStaleSocket(t *testing.T) {
	tmpDir := shortTempDir(t, "duet-srv-*")
	socketPath := filepath.Join(tmpDir, "d.sock")
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(
		Params{SessionName: "srvtest", SocketPath: socketPath},
		zap.NewNop(),
		api.NewSessionService("srvtest", "", status.NewMachine(nil), nil, nil),
		api.NewChatService("srvtest", nil, nil, nil),
		api.NewActionService(nil, ""),
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("mode = %v, want a socket", info.Mode())
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
	srv.Stop(context.Background())
}
