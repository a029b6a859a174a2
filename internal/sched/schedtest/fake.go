// Package schedtest provides a manually advanced sched.Scheduler for tests.
package schedtest

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/duet/internal/sched"
)

// Fake is a Scheduler whose clock only moves when Advance is called.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*task
	fired int
}

type task struct {
	at      time.Time
	seq     int
	f       func()
	stopped bool
	done    bool
	owner   *Fake
}

func (t *task) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.done {
		return false
	}
	t.stopped = true
	return true
}

// New creates a fake scheduler starting at a fixed instant.
func New() *Fake {
	return &Fake{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// AfterFunc schedules f to run once the clock has advanced by d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) sched.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &task{at: f.now.Add(d), seq: f.seq, f: fn, owner: f}
	f.tasks = append(f.tasks, t)
	return t
}

// Now returns the fake clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward, running due callbacks in deadline order.
// Callbacks scheduled by callbacks run too if they fall inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.at
		next.done = true
		f.fired++
		f.mu.Unlock()
		next.f()
	}
}

func (f *Fake) nextDue(target time.Time) *task {
	live := f.tasks[:0]
	for _, t := range f.tasks {
		if !t.stopped && !t.done {
			live = append(live, t)
		}
	}
	f.tasks = live
	sort.Slice(f.tasks, func(i, j int) bool {
		if f.tasks[i].at.Equal(f.tasks[j].at) {
			return f.tasks[i].seq < f.tasks[j].seq
		}
		return f.tasks[i].at.Before(f.tasks[j].at)
	})
	if len(f.tasks) == 0 || f.tasks[0].at.After(target) {
		return nil
	}
	return f.tasks[0]
}

// Pending returns the number of scheduled callbacks that have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if !t.stopped && !t.done {
			n++
		}
	}
	return n
}

// Fired returns how many callbacks have run.
func (f *Fake) Fired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}
