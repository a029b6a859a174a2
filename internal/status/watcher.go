package status

import (
	"context"

	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/realtime"
	"go.uber.org/zap"
)

// LinkSource reports the reconnection state of every registered channel.
type LinkSource interface {
	Snapshot() map[string]realtime.Link
}

// Watcher drives a Machine from realtime.* bus events.
type Watcher struct {
	machine *Machine
	links   LinkSource
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher. Start must be called to begin consuming.
func NewWatcher(m *Machine, links LinkSource, b *bus.Bus, logger *zap.Logger) *Watcher {
	return &Watcher{machine: m, links: links, bus: b, logger: logger}
}

// Start subscribes to realtime events on the bus.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, unsub := w.bus.Subscribe("realtime.", 64)
	w.Evaluate()

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				w.Evaluate()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Evaluate recomputes the link state from the current channel snapshot.
func (w *Watcher) Evaluate() {
	cur := w.machine.Current()
	switch cur {
	case Booting, AuthRequired, Error:
		return
	}
	target, ok := Derive(w.links.Snapshot(), cur)
	if !ok || target == cur {
		return
	}
	if err := w.machine.Transition(target); err != nil {
		w.logger.Debug("link transition skipped", zap.Error(err))
		return
	}
	w.logger.Info("link status changed", zap.String("from", string(cur)), zap.String("to", string(target)))
}

// Derive maps channel links to a daemon state. A given-up channel degrades
// the link, any other non-joined channel shows it reconnecting once it has
// been up, and all joined (or none registered) is Ready.
func Derive(links map[string]realtime.Link, cur State) (State, bool) {
	if len(links) == 0 {
		return Ready, true
	}
	joined, failed, givenUp := 0, 0, 0
	for _, l := range links {
		switch l.Phase {
		case realtime.PhaseJoined:
			joined++
		case realtime.PhaseFailed:
			failed++
		case realtime.PhaseGivenUp:
			givenUp++
		}
	}
	switch {
	case givenUp > 0:
		return Degraded, true
	case joined == len(links):
		return Ready, true
	case failed > 0:
		return Reconnecting, true
	case cur == Connecting:
		return Connecting, true
	}
	return Reconnecting, true
}
