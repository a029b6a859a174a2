package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/duet/internal/actions"
	"github.com/matheus3301/duet/internal/auth"
	"github.com/matheus3301/duet/internal/backend"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/chat"
	"github.com/matheus3301/duet/internal/config"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/realtime"
	"github.com/matheus3301/duet/internal/realtime/socket"
	"github.com/matheus3301/duet/internal/sched"
	"github.com/matheus3301/duet/internal/store"
	"go.uber.org/zap"
)

// Account holds everything that only exists while a user is signed in. A
// signed-out Account carries only the Reason.
type Account struct {
	Reason     error
	Identity   auth.Identity
	Backend    *backend.Client
	Socket     *socket.Client
	Controller *realtime.Controller
	Chats      *chat.Manager
	Actions    *actions.Runner
}

// SignedIn reports whether the account has a live backend session.
func (a *Account) SignedIn() bool {
	return a != nil && a.Controller != nil
}

// UserID returns the signed-in user, or "".
func (a *Account) UserID() string {
	if !a.SignedIn() {
		return ""
	}
	return a.Identity.UserID
}

// NewAccount signs in with the configured access token. A missing, invalid
// or expired token yields a signed-out account rather than an error.
func NewAccount(cfg *config.Config, db *store.DB, b *bus.Bus, m *metrics.Metrics, s sched.Scheduler, logger *zap.Logger) (*Account, error) {
	id, err := auth.Parse(cfg.Backend.AccessToken)
	if err != nil {
		return &Account{Reason: err}, nil
	}
	if id.Expired(s.Now()) {
		return &Account{Reason: fmt.Errorf("access token expired at %s", id.ExpiresAt.Format(time.RFC3339))}, nil
	}
	if cfg.Backend.URL == "" {
		return &Account{Reason: errors.New("backend url not configured")}, nil
	}

	api, err := backend.New(backend.Config{
		URL:         cfg.Backend.URL,
		AnonKey:     cfg.Backend.AnonKey,
		AccessToken: cfg.Backend.AccessToken,
	}, logger.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}
	endpoint, err := socket.Endpoint(cfg.Backend.URL, cfg.Backend.AnonKey)
	if err != nil {
		return nil, err
	}
	sock := socket.New(socket.Config{
		Endpoint:          endpoint,
		AccessToken:       cfg.Backend.AccessToken,
		PresenceKey:       id.UserID,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval.Duration,
		JoinTimeout:       cfg.Realtime.JoinTimeout.Duration,
		Scheduler:         s,
	}, logger.Named("socket"))

	reg := realtime.NewRegistry(sock, logger.Named("registry"))
	ctrl := realtime.NewController(reg, s, realtime.Policy{
		MaxAttempts: cfg.Realtime.MaxAttempts,
		BaseDelay:   cfg.Realtime.BaseDelay.Duration,
	}, b, m, logger.Named("realtime"))

	chats := chat.NewManager(id.UserID, chat.Config{
		PageSize:     cfg.Chat.PageSize,
		TypingIdle:   cfg.Chat.TypingIdle.Duration,
		TypingExpiry: cfg.Chat.TypingExpiry.Duration,
	}, chat.Deps{
		Store:      api,
		Controller: ctrl,
		Scheduler:  s,
		Bus:        b,
		Metrics:    m,
		Logger:     logger.Named("chat"),
	})

	return &Account{
		Identity:   id,
		Backend:    api,
		Socket:     sock,
		Controller: ctrl,
		Chats:      chats,
		Actions:    actions.NewRunner(db, api, b, m, logger.Named("actions")),
	}, nil
}

// Snapshot returns the realtime channel links, none while signed out.
func (a *Account) Snapshot() map[string]realtime.Link {
	if !a.SignedIn() {
		return nil
	}
	return a.Controller.Snapshot()
}

// Start begins reconnect processing.
func (a *Account) Start(ctx context.Context) {
	if a.SignedIn() {
		a.Controller.Start(ctx)
	}
}

// Shutdown closes every open conversation and tears down the socket.
func (a *Account) Shutdown(ctx context.Context) error {
	if !a.SignedIn() {
		return nil
	}
	a.Chats.CloseAll(ctx)
	a.Controller.UnsubscribeAll()
	a.Controller.Stop()
	return a.Socket.Close()
}
