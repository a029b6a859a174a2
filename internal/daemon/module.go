package daemon

import (
	"context"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/config"
	"github.com/matheus3301/duet/internal/lock"
	"github.com/matheus3301/duet/internal/logging"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/sched"
	"github.com/matheus3301/duet/internal/session"
	"github.com/matheus3301/duet/internal/status"
	"github.com/matheus3301/duet/internal/store"
	intsync "github.com/matheus3301/duet/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = resolve from file and environment
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideScheduler,
			provideStateMachine,
			provideLock,
			provideStore,
			NewAccount,
			provideSyncEngine,
			provideWatcher,
			provideSessionService,
			provideChatService,
			provideActionService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Resolve(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    session.LogPath(p.SessionName),
		Session: p.SessionName,
		Debug:   p.Debug,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics(b *bus.Bus) (*metrics.Metrics, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "duet_bus_dropped_events_total",
			Help: "Events a full subscriber missed.",
		}, func() float64 { return float64(b.Stats().Dropped) }),
	)
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return nil, nil, err
	}
	return m, reg, nil
}

func provideScheduler() sched.Scheduler {
	return sched.Real()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideWatcher(m *status.Machine, acct *Account, b *bus.Bus, logger *zap.Logger) *status.Watcher {
	return status.NewWatcher(m, acct, b, logger.Named("status"))
}

func provideSessionService(p Params, m *status.Machine, acct *Account, db *store.DB) *api.SessionService {
	return api.NewSessionService(p.SessionName, acct.UserID(), m, acct.Controller, db)
}

func provideChatService(p Params, acct *Account, db *store.DB, b *bus.Bus) *api.ChatService {
	return api.NewChatService(p.SessionName, acct.Chats, db, b)
}

func provideActionService(acct *Account) *api.ActionService {
	return api.NewActionService(acct.Actions, acct.UserID())
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, ms *MetricsServer, lk *lock.Lock, db *store.DB, acct *Account, engine *intsync.Engine, watcher *status.Watcher, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Mirror chat events into the store before anything can emit them.
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			ms.Start()

			if !acct.SignedIn() {
				logger.Info("auth required", zap.Error(acct.Reason))
				_ = machine.Transition(status.AuthRequired)
				return nil
			}

			logger.Info("signed in", zap.String("user", acct.UserID()))
			acct.Start(context.Background())
			_ = machine.Transition(status.Connecting)
			watcher.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			watcher.Stop()
			if err := acct.Shutdown(ctx); err != nil {
				logger.Warn("error closing realtime socket", zap.Error(err))
			}
			engine.Stop()
			if err := ms.Stop(ctx); err != nil {
				logger.Warn("error stopping metrics server", zap.Error(err))
			}
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped", zap.Uint64("dropped_events", b.Stats().Dropped))
			_ = logger.Sync()
			return nil
		},
	})
}
