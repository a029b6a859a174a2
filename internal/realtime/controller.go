package realtime

import (
	"context"
	"sync"

	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/sched"
	"go.uber.org/zap"
)

// Subscription describes what to do with each fresh handle for a name.
// Setup runs before every subscribe, including resubscribes, so handlers are
// registered on the new channel object.
type Subscription struct {
	Setup        func(Channel)
	OnConnect    func()
	OnDisconnect func(Status)
}

type record struct {
	sub      Subscription
	link     Link
	handle   *Handle
	retrySeq int
}

type event struct {
	name     string
	kind     Event
	handle   *Handle // nil for controller-originated events
	status   Status
	err      error
	sub      *Subscription
	retrySeq int
	epoch    uint64 // teardown generation a subscribe was posted under
	gen      uint64
}

// Controller drives subscribe, backoff and resubscribe for registered names.
// Transport callbacks and timer firings are queued and applied one at a time
// by the loop started with Start, in arrival order.
type Controller struct {
	registry *Registry
	sched    sched.Scheduler
	policy   Policy
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	events chan event
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	records map[string]*record

	// epoch moves on UnsubscribeAll and gens[name] on Unsubscribe, so a
	// subscribe still queued from before a teardown is dropped.
	epoch uint64
	gens  map[string]uint64
}

// NewController creates a controller. Start must be called before events are processed.
func NewController(r *Registry, s sched.Scheduler, p Policy, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s == nil {
		s = sched.Real()
	}
	return &Controller{
		registry: r,
		sched:    s,
		policy:   p,
		bus:      b,
		metrics:  m,
		logger:   logger,
		events:   make(chan event, 1024),
		done:     make(chan struct{}),
		records:  make(map[string]*record),
		gens:     make(map[string]uint64),
	}
}

// Registry returns the registry the controller manages.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Start runs the event loop until ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		for {
			select {
			case ev := <-c.events:
				c.dispatch(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the event loop and waits for it to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// SubscribeWithReconnect registers name and subscribes it. Calling it again
// for the same name replaces the subscription and starts from a fresh handle.
func (c *Controller) SubscribeWithReconnect(name string, sub Subscription) {
	if name == "" {
		c.logger.Warn("subscribe called with empty channel name")
		return
	}
	c.postSubscribe(name, sub)
}

// Refresh restarts name from a clean state, e.g. after it gave up.
func (c *Controller) Refresh(name string) {
	c.mu.RLock()
	rec, ok := c.records[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.postSubscribe(name, rec.sub)
}

// RefreshAll restarts every registered name.
func (c *Controller) RefreshAll() {
	for _, name := range c.names() {
		c.Refresh(name)
	}
}

// Unsubscribe forgets name and removes its handle and pending retry.
func (c *Controller) Unsubscribe(name string) {
	c.mu.Lock()
	delete(c.records, name)
	c.gens[name]++
	c.registry.Remove(name)
	c.mu.Unlock()
	c.metrics.SetJoined(c.registry.ConnectionSummary().Joined)
}

// UnsubscribeAll forgets every name and empties the registry.
func (c *Controller) UnsubscribeAll() {
	c.mu.Lock()
	c.records = make(map[string]*record)
	c.epoch++
	c.registry.RemoveAll()
	c.mu.Unlock()
	c.metrics.SetJoined(0)
}

// Snapshot returns the current link of every registered name.
func (c *Controller) Snapshot() map[string]Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Link, len(c.records))
	for name, rec := range c.records {
		out[name] = rec.link
	}
	return out
}

func (c *Controller) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.records))
	for name := range c.records {
		names = append(names, name)
	}
	return names
}

func (c *Controller) postSubscribe(name string, sub Subscription) {
	c.mu.RLock()
	ev := event{name: name, kind: EventSubscribe, sub: &sub, epoch: c.epoch, gen: c.gens[name]}
	c.mu.RUnlock()
	c.post(ev)
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
		return
	case <-c.done:
		return
	default:
	}
	// Queue full: deliver without blocking the caller, which may be the loop itself.
	c.logger.Warn("realtime event queue full", zap.String("channel", ev.name), zap.Stringer("event", ev.kind))
	go func() {
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}()
}

func (c *Controller) statusCallback(name string, h *Handle) func(Status, error) {
	return func(s Status, err error) {
		c.post(event{name: name, kind: eventFor(s), handle: h, status: s, err: err})
	}
}

func (c *Controller) dispatch(ev event) {
	var callbacks []func()

	c.mu.Lock()
	rec := c.records[ev.name]
	switch {
	case ev.kind == EventSubscribe && (ev.epoch != c.epoch || ev.gen != c.gens[ev.name]):
		c.mu.Unlock()
		c.logger.Debug("dropping subscribe queued before unsubscribe", zap.String("channel", ev.name))
		return
	case ev.kind == EventSubscribe:
		seq := 0
		if rec != nil {
			c.registry.Remove(ev.name)
			seq = rec.retrySeq + 1
		}
		rec = &record{sub: *ev.sub, retrySeq: seq}
		c.records[ev.name] = rec
	case rec == nil:
		c.mu.Unlock()
		return
	case ev.handle != nil && ev.handle != rec.handle:
		c.mu.Unlock()
		c.logger.Debug("dropping status from stale handle", zap.String("channel", ev.name), zap.String("status", string(ev.status)))
		return
	case ev.kind == EventRetry:
		if ev.retrySeq != rec.retrySeq {
			c.mu.Unlock()
			return
		}
		c.registry.clearRetry(ev.name)
	}

	if ev.handle != nil {
		ev.handle.setState(ev.status.channelState())
	}
	if ev.err != nil {
		c.logger.Warn("realtime channel error", zap.String("channel", ev.name), zap.String("status", string(ev.status)), zap.Error(ev.err))
	}

	next, effects := Next(rec.link, ev.kind, c.policy)
	prev := rec.link
	rec.link = next
	for _, eff := range effects {
		if cb := c.apply(ev, rec, prev, eff); cb != nil {
			callbacks = append(callbacks, cb)
		}
	}
	c.mu.Unlock()

	c.metrics.SetJoined(c.registry.ConnectionSummary().Joined)
	for _, cb := range callbacks {
		cb()
	}
}

// apply performs one effect with c.mu held. User callbacks are returned so
// they run after the lock is released.
func (c *Controller) apply(ev event, rec *record, prev Link, eff Effect) func() {
	name := ev.name
	switch eff.Kind {
	case EffectSubscribe:
		h := c.registry.GetOrCreate(name)
		rec.handle = h
		if h.State() == StateJoined {
			if rec.sub.Setup != nil {
				rec.sub.Setup(h.Channel())
			}
			c.post(event{name: name, kind: EventJoined, handle: h, status: StatusSubscribed})
			return nil
		}
		c.subscribe(name, rec, h)

	case EffectResubscribe:
		c.registry.Remove(name)
		h := c.registry.GetOrCreate(name)
		rec.handle = h
		c.logger.Info("resubscribing realtime channel", zap.String("channel", name), zap.Int("attempt", rec.link.Attempt))
		c.subscribe(name, rec, h)

	case EffectConnect:
		c.logger.Info("realtime channel joined", zap.String("channel", name))
		c.bus.Emit(bus.RealtimeJoined, bus.ChannelChange{Channel: name, Status: string(PhaseJoined)})
		return rec.sub.OnConnect

	case EffectDisconnect:
		c.logger.Warn("realtime channel disconnected",
			zap.String("channel", name), zap.String("status", string(ev.status)), zap.String("from", string(prev.Phase)))
		c.metrics.Disconnected(string(ev.status))
		c.bus.Emit(bus.RealtimeDisconnected, bus.ChannelChange{Channel: name, Status: string(ev.status), Attempt: rec.link.Attempt})
		if rec.sub.OnDisconnect != nil {
			fn, st := rec.sub.OnDisconnect, ev.status
			return func() { fn(st) }
		}

	case EffectScheduleRetry:
		rec.retrySeq++
		seq := rec.retrySeq
		task := c.sched.AfterFunc(eff.Delay, func() {
			c.post(event{name: name, kind: EventRetry, retrySeq: seq})
		})
		c.registry.setRetry(name, task)
		c.metrics.RetryScheduled()
		c.logger.Info("realtime retry scheduled",
			zap.String("channel", name), zap.Int("attempt", rec.link.Attempt), zap.Duration("delay", eff.Delay))
		c.bus.Emit(bus.RealtimeRetryScheduled, bus.ChannelChange{Channel: name, Attempt: rec.link.Attempt, Delay: eff.Delay})

	case EffectCancelRetry:
		rec.retrySeq++
		c.registry.clearRetry(name)

	case EffectGiveUp:
		c.logger.Error("realtime channel gave up reconnecting",
			zap.String("channel", name), zap.Int("attempts", rec.link.Attempt))
		c.registry.Remove(name)
		rec.handle = nil
		c.metrics.GaveUp()
		c.bus.Emit(bus.RealtimeGivenUp, bus.ChannelChange{Channel: name, Status: string(PhaseGivenUp), Attempt: rec.link.Attempt})
	}
	return nil
}

func (c *Controller) subscribe(name string, rec *record, h *Handle) {
	if rec.sub.Setup != nil {
		rec.sub.Setup(h.Channel())
	}
	h.setState(StateSubscribing)
	h.Channel().Subscribe(c.statusCallback(name, h))
}
