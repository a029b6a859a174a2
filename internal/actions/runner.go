// Package actions runs user actions optimistically: the local state changes
// first, the server call follows, and a rejected call undoes the change.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/store"
	"go.uber.org/zap"
)

var (
	ErrNoKind   = errors.New("action kind is required")
	ErrNoTarget = errors.New("action target is required")
)

// Invoker performs the server side of an action.
type Invoker interface {
	Call(ctx context.Context, fn, id, actorID string) error
}

// Action names a server function and the subject it acts on.
type Action struct {
	Kind     string
	TargetID string
	ActorID  string
}

// Mutation is the local half of an action. Revert undoes Apply.
type Mutation struct {
	Apply  func() error
	Revert func() error
}

// Outcome is the payload of action.* bus events.
type Outcome struct {
	ID     string
	Action Action
	Alert  *bus.Alert
}

// Runner executes actions against the action log in the local store.
type Runner struct {
	db      *store.DB
	invoker Invoker
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRunner creates a runner. b, m and logger may be nil.
func NewRunner(db *store.DB, invoker Invoker, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		db:      db,
		invoker: invoker,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Do records a, applies mut, and calls the server. On rejection the mutation
// is reverted, the log entry marked failed and an alert raised; the server
// error is returned. The returned id identifies the log entry.
func (r *Runner) Do(ctx context.Context, a Action, mut Mutation) (string, error) {
	if a.Kind == "" {
		return "", ErrNoKind
	}
	if a.TargetID == "" {
		return "", ErrNoTarget
	}

	id := uuid.NewString()
	if err := r.db.RecordAction(&store.Action{ID: id, Kind: a.Kind, TargetID: a.TargetID, ActorID: a.ActorID}); err != nil {
		return "", fmt.Errorf("record action: %w", err)
	}
	log := r.logger.With(zap.String("action_id", id), zap.String("kind", a.Kind), zap.String("target", a.TargetID))

	if mut.Apply != nil {
		if err := mut.Apply(); err != nil {
			_ = r.db.MarkActionFailed(id, err.Error())
			return id, fmt.Errorf("apply %s locally: %w", a.Kind, err)
		}
	}
	r.bus.Emit(bus.ActionApplied, Outcome{ID: id, Action: a})

	if err := r.invoker.Call(ctx, a.Kind, a.TargetID, a.ActorID); err != nil {
		log.Warn("action rejected, rolling back", zap.Error(err))
		if mut.Revert != nil {
			if rerr := mut.Revert(); rerr != nil {
				log.Error("failed to revert local state", zap.Error(rerr))
			}
		}
		if merr := r.db.MarkActionFailed(id, err.Error()); merr != nil {
			log.Error("failed to mark action failed", zap.Error(merr))
		}
		r.metrics.Action(a.Kind, "rolled_back")
		alert := &bus.Alert{Action: a.Kind, Target: a.TargetID, Message: err.Error()}
		r.bus.Emit(bus.ActionRolledBack, Outcome{ID: id, Action: a, Alert: alert})
		return id, err
	}

	if err := r.db.MarkActionSent(id); err != nil {
		log.Error("failed to mark action sent", zap.Error(err))
	}
	r.metrics.Action(a.Kind, "confirmed")
	log.Info("action confirmed")
	r.bus.Emit(bus.ActionConfirmed, Outcome{ID: id, Action: a})
	return id, nil
}

// Perform runs a known backend function with its default local state change.
func (r *Runner) Perform(ctx context.Context, a Action) (string, error) {
	kind, value, ok := Optimistic(a.Kind)
	if !ok {
		return "", fmt.Errorf("unknown action %q", a.Kind)
	}
	return r.Do(ctx, a, LocalState(r.db, kind, a.TargetID, value))
}

// Recent returns the newest entries of the action log.
func (r *Runner) Recent(limit int) ([]store.Action, error) {
	return r.db.RecentActions(limit)
}
