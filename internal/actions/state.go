package actions

import (
	"github.com/matheus3301/duet/internal/backend"
	"github.com/matheus3301/duet/internal/store"
)

// StateSetter is the part of the store LocalState needs.
type StateSetter interface {
	SetState(kind, id, value string) error
	GetState(kind, id string) (string, bool, error)
	DeleteState(kind, id string) error
}

var _ StateSetter = (*store.DB)(nil)

// LocalState returns a mutation that sets (kind, id) to value. Revert puts
// back whatever was there when Apply ran, or clears the entry.
func LocalState(s StateSetter, kind, id, value string) Mutation {
	var (
		prev string
		had  bool
	)
	return Mutation{
		Apply: func() error {
			var err error
			prev, had, err = s.GetState(kind, id)
			if err != nil {
				return err
			}
			return s.SetState(kind, id, value)
		},
		Revert: func() error {
			if had {
				return s.SetState(kind, id, prev)
			}
			return s.DeleteState(kind, id)
		},
	}
}

type localChange struct {
	kind  string
	value string
}

var optimistic = map[string]localChange{
	backend.FnAcceptFavor:          {"favor", "accepted"},
	backend.FnDeclineFavor:         {"favor", "declined"},
	backend.FnCompleteFavor:        {"favor", "completed"},
	backend.FnAddReaction:          {"reaction", "added"},
	backend.FnCreditPoints:         {"points", "credited"},
	backend.FnSendThankYou:         {"thank_you", "sent"},
	backend.FnMarkNotificationRead: {"notification", "read"},
}

// Optimistic returns the local state a backend function sets before the
// server confirms it.
func Optimistic(fn string) (kind, value string, ok bool) {
	c, ok := optimistic[fn]
	return c.kind, c.value, ok
}
