package realtime

import (
	"sync"

	"github.com/matheus3301/duet/internal/sched"
	"go.uber.org/zap"
)

// Handle is the registry's record of one channel subscription.
type Handle struct {
	name string
	ch   Channel

	mu    sync.RWMutex
	state ChannelState
}

// Name returns the logical channel name.
func (h *Handle) Name() string {
	return h.name
}

// Channel returns the transport channel.
func (h *Handle) Channel() Channel {
	return h.ch
}

// State returns the current lifecycle state.
func (h *Handle) State() ChannelState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handle) setState(s ChannelState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Registry owns the mapping from channel name to handle. It holds at most one
// handle and one pending retry timer per name.
type Registry struct {
	transport Transport
	logger    *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	retries map[string]*sched.Slot
}

// NewRegistry creates an empty registry over the given transport.
func NewRegistry(t Transport, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		transport: t,
		logger:    logger,
		handles:   make(map[string]*Handle),
		retries:   make(map[string]*sched.Slot),
	}
}

// GetOrCreate returns the joined handle for name, or replaces whatever stale
// handle is registered with a fresh one. Returns nil for an empty name.
func (r *Registry) GetOrCreate(name string) *Handle {
	if name == "" {
		r.logger.Warn("refusing to create channel with empty name")
		return nil
	}

	r.mu.Lock()
	existing := r.handles[name]
	if existing != nil && existing.State() == StateJoined {
		r.mu.Unlock()
		return existing
	}
	delete(r.handles, name)
	h := &Handle{name: name, ch: r.transport.Channel(name), state: StateUnsubscribed}
	r.handles[name] = h
	r.mu.Unlock()

	if existing != nil {
		r.discard(existing)
	}
	return h
}

// Lookup returns the registered handle for name, or nil.
func (r *Registry) Lookup(name string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[name]
}

// Remove unsubscribes and forgets the handle for name and cancels its pending
// retry. Unknown names are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	h := r.handles[name]
	delete(r.handles, name)
	if slot, ok := r.retries[name]; ok {
		slot.Clear()
		delete(r.retries, name)
	}
	r.mu.Unlock()

	if h != nil {
		r.discard(h)
	}
}

// RemoveAll removes every handle and cancels every pending retry.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	for _, slot := range r.retries {
		slot.Clear()
	}
	r.retries = make(map[string]*sched.Slot)
	r.mu.Unlock()

	for _, h := range handles {
		r.discard(h)
	}
}

// ConnectionSummary counts registered handles by joined state.
func (r *Registry) ConnectionSummary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Summary
	for _, h := range r.handles {
		if h.State() == StateJoined {
			s.Joined++
		} else {
			s.NotJoined++
		}
	}
	return s
}

// PendingRetries returns how many names have a retry timer stored.
func (r *Registry) PendingRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, slot := range r.retries {
		if slot.Pending() {
			n++
		}
	}
	return n
}

func (r *Registry) setRetry(name string, t sched.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.retries[name]
	if !ok {
		slot = &sched.Slot{}
		r.retries[name] = slot
	}
	slot.Set(t)
}

func (r *Registry) clearRetry(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.retries[name]; ok {
		slot.Clear()
		delete(r.retries, name)
	}
}

func (r *Registry) discard(h *Handle) {
	h.setState(StateClosed)
	if err := r.transport.RemoveChannel(h.ch); err != nil {
		r.logger.Warn("failed to remove channel", zap.String("channel", h.name), zap.Error(err))
	}
}
