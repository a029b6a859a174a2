package chat

// Event is a change to the message list applied by Reduce.
type Event interface {
	isEvent()
}

// OptimisticInsert puts a temporary entry at the head.
type OptimisticInsert struct{ Message Message }

// ConfirmReplace swaps the temporary entry for the saved row in place.
type ConfirmReplace struct {
	TempID  string
	Message Message
}

// RollbackRemove drops a temporary entry whose send failed.
type RollbackRemove struct{ TempID string }

// RemoteInsert adds a row delivered by the realtime stream.
type RemoteInsert struct{ Message Message }

// PageAppend adds an older page at the tail.
type PageAppend struct{ Messages []Message }

func (OptimisticInsert) isEvent() {}
func (ConfirmReplace) isEvent()   {}
func (RollbackRemove) isEvent()   {}
func (RemoteInsert) isEvent()     {}
func (PageAppend) isEvent()       {}

// Reduce returns the list after ev. Lists are newest first; the input is
// never modified.
func Reduce(msgs []Message, ev Event) []Message {
	switch e := ev.(type) {
	case OptimisticInsert:
		if indexOf(msgs, e.Message.ID) >= 0 {
			return msgs
		}
		return prepend(msgs, e.Message)

	case ConfirmReplace:
		at := indexOf(msgs, e.TempID)
		if at < 0 {
			return msgs
		}
		out := make([]Message, 0, len(msgs))
		for i, m := range msgs {
			switch {
			case i == at:
				out = append(out, e.Message)
			case m.ID == e.Message.ID:
				// Realtime delivered the row before the insert returned.
			default:
				out = append(out, m)
			}
		}
		return out

	case RollbackRemove:
		at := indexOf(msgs, e.TempID)
		if at < 0 {
			return msgs
		}
		out := make([]Message, 0, len(msgs)-1)
		out = append(out, msgs[:at]...)
		return append(out, msgs[at+1:]...)

	case RemoteInsert:
		if indexOf(msgs, e.Message.ID) >= 0 {
			return msgs
		}
		if e.Message.ClientID != "" {
			if at := indexOf(msgs, e.Message.ClientID); at >= 0 && msgs[at].IsTemp() {
				out := append([]Message(nil), msgs...)
				out[at] = e.Message
				return out
			}
		}
		return prepend(msgs, e.Message)

	case PageAppend:
		out := append([]Message(nil), msgs...)
		for _, m := range e.Messages {
			if indexOf(out, m.ID) < 0 {
				out = append(out, m)
			}
		}
		return out
	}
	return msgs
}

func prepend(msgs []Message, m Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, m)
	return append(out, msgs...)
}

func indexOf(msgs []Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
