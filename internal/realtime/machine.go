package realtime

import "time"

// Phase is the reconnection state of one channel name.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseSubscribing Phase = "SUBSCRIBING"
	PhaseJoined      Phase = "JOINED"
	PhaseFailed      Phase = "FAILED"
	PhaseGivenUp     Phase = "GIVEN_UP"
)

// Link is the controller's per-name state. Attempt counts consecutive
// failures since the last join.
type Link struct {
	Phase   Phase
	Attempt int
}

// Event drives the state machine.
type Event int

const (
	EventSubscribe Event = iota
	EventJoined
	EventErrored
	EventTimedOut
	EventClosed
	EventRetry
)

var eventNames = map[Event]string{
	EventSubscribe: "subscribe",
	EventJoined:    "joined",
	EventErrored:   "errored",
	EventTimedOut:  "timed_out",
	EventClosed:    "closed",
	EventRetry:     "retry",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "unknown"
}

func (e Event) failure() bool {
	return e == EventErrored || e == EventTimedOut || e == EventClosed
}

func eventFor(s Status) Event {
	switch s {
	case StatusSubscribed:
		return EventJoined
	case StatusTimedOut:
		return EventTimedOut
	case StatusClosed:
		return EventClosed
	default:
		return EventErrored
	}
}

// EffectKind names a side effect requested by a transition.
type EffectKind int

const (
	// EffectSubscribe obtains a handle from the registry and subscribes it.
	EffectSubscribe EffectKind = iota
	// EffectResubscribe discards the current handle and subscribes a new one.
	EffectResubscribe
	EffectConnect
	EffectDisconnect
	EffectScheduleRetry
	EffectCancelRetry
	EffectGiveUp
)

// Effect is a side effect the controller performs after a transition.
type Effect struct {
	Kind  EffectKind
	Delay time.Duration // for EffectScheduleRetry
}

// Policy bounds automatic resubscription.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy retries three times after 1s, 2s and 4s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Delay returns BaseDelay * 2^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}

// Next computes the transition for ev. It performs no I/O.
func Next(cur Link, ev Event, p Policy) (Link, []Effect) {
	if ev == EventSubscribe {
		return Link{Phase: PhaseSubscribing}, []Effect{{Kind: EffectCancelRetry}, {Kind: EffectSubscribe}}
	}

	switch cur.Phase {
	case PhaseSubscribing, PhaseJoined:
		switch {
		case ev == EventJoined && cur.Phase == PhaseSubscribing:
			return Link{Phase: PhaseJoined}, []Effect{{Kind: EffectCancelRetry}, {Kind: EffectConnect}}
		case ev.failure():
			return fail(cur, p, []Effect{{Kind: EffectDisconnect}})
		}

	case PhaseFailed:
		switch {
		case ev == EventRetry:
			return Link{Phase: PhaseSubscribing, Attempt: cur.Attempt}, []Effect{{Kind: EffectResubscribe}}
		case ev == EventJoined:
			return Link{Phase: PhaseJoined}, []Effect{{Kind: EffectCancelRetry}, {Kind: EffectConnect}}
		case ev.failure():
			return fail(cur, p, nil)
		}
	}

	// Idle and GivenUp ignore transport events; so does every unmatched pair.
	return cur, nil
}

func fail(cur Link, p Policy, effects []Effect) (Link, []Effect) {
	if cur.Attempt >= p.MaxAttempts {
		return Link{Phase: PhaseGivenUp, Attempt: cur.Attempt},
			append(effects, Effect{Kind: EffectCancelRetry}, Effect{Kind: EffectGiveUp})
	}
	return Link{Phase: PhaseFailed, Attempt: cur.Attempt + 1},
		append(effects, Effect{Kind: EffectScheduleRetry, Delay: p.Delay(cur.Attempt)})
}
