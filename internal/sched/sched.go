package sched

import "time"

// Task is a handle to a scheduled callback.
type Task interface {
	// Stop cancels the callback. Returns false if it already fired or was stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay. Retry backoff and typing timers are
// built on it so tests can substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
	Now() time.Time
}

// Real returns a Scheduler backed by the runtime timers.
func Real() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

func (realScheduler) Now() time.Time {
	return time.Now()
}

// Slot holds at most one pending Task. Set stops the previous task before
// storing the new one.
type Slot struct {
	task Task
}

// Set replaces the pending task.
func (s *Slot) Set(t Task) {
	s.Clear()
	s.task = t
}

// Clear stops and drops the pending task, if any. Returns whether one was pending.
func (s *Slot) Clear() bool {
	if s.task == nil {
		return false
	}
	s.task.Stop()
	s.task = nil
	return true
}

// Pending reports whether a task is stored.
func (s *Slot) Pending() bool {
	return s.task != nil
}
