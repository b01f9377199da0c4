package session

import (
	"time"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/shared"
)

// EventKind names an entry in the session event log.
type EventKind string

const (
	// EventSubmitted appends an optimistic user message and an awaiting
	// assistant placeholder.
	EventSubmitted EventKind = "submitted"
	// EventConfirmed confirms a user message and fills its placeholder.
	EventConfirmed EventKind = "confirmed"
	// EventFailed marks a user message errored and turns its placeholder
	// into an error explanation.
	EventFailed EventKind = "failed"
	// EventThreadAdopted records the first thread id seen for the session.
	EventThreadAdopted EventKind = "thread_adopted"
	// EventThreadConflict records a later, different thread id that was ignored.
	EventThreadConflict EventKind = "thread_conflict"
	// EventCleared empties the timeline and sets the thread id (possibly empty).
	EventCleared EventKind = "cleared"
	// EventHydrated inserts confirmed messages loaded from the server ahead
	// of anything sent since the matching clear.
	EventHydrated EventKind = "hydrated"
)

// Event is one immutable entry of the session log.
type Event struct {
	Seq        int
	Kind       EventKind
	At         time.Time
	Generation int

	ThreadID      string
	UserID        string
	PlaceholderID string
	Content       string
	Err           *shared.Error
	Messages      []domain.SessionMessage
}

// Project folds the event log into the rendered session. It is pure: the
// same log always yields the same timeline.
func Project(events []Event) domain.ConversationSession {
	var s domain.ConversationSession
	for _, ev := range events {
		s = apply(s, ev)
	}
	return s
}

func apply(s domain.ConversationSession, ev Event) domain.ConversationSession {
	switch ev.Kind {
	case EventCleared:
		return domain.ConversationSession{ThreadID: ev.ThreadID}

	case EventSubmitted:
		s.Messages = append(cloneMessages(s.Messages),
			domain.SessionMessage{
				LocalID:   ev.UserID,
				Role:      domain.RoleUser,
				Content:   ev.Content,
				State:     domain.MessageOptimistic,
				CreatedAt: ev.At,
			},
			domain.SessionMessage{
				LocalID:   ev.PlaceholderID,
				Role:      domain.RoleAssistant,
				State:     domain.MessageOptimistic,
				ReplyTo:   ev.UserID,
				CreatedAt: ev.At,
			},
		)

	case EventConfirmed:
		s.Messages = cloneMessages(s.Messages)
		for i := range s.Messages {
			m := &s.Messages[i]
			switch m.LocalID {
			case ev.UserID:
				m.State = domain.MessageConfirmed
			case ev.PlaceholderID:
				m.State = domain.MessageConfirmed
				m.Content = ev.Content
				m.CreatedAt = ev.At
			}
		}

	case EventFailed:
		s.Messages = cloneMessages(s.Messages)
		for i := range s.Messages {
			m := &s.Messages[i]
			switch m.LocalID {
			case ev.UserID:
				m.State = domain.MessageErrored
				m.Error = ev.Err
			case ev.PlaceholderID:
				m.State = domain.MessageErrored
				m.Error = ev.Err
				m.Content = ev.Content
				m.CreatedAt = ev.At
			}
		}

	case EventThreadAdopted:
		// First writer wins.
		if s.ThreadID == "" {
			s.ThreadID = ev.ThreadID
		}

	case EventHydrated:
		// The transcript predates any send made while it was loading.
		merged := make([]domain.SessionMessage, 0, len(ev.Messages)+len(s.Messages))
		merged = append(merged, ev.Messages...)
		s.Messages = append(merged, s.Messages...)

	case EventThreadConflict:
		// Diagnostic only.
	}
	return s
}

func cloneMessages(in []domain.SessionMessage) []domain.SessionMessage {
	if in == nil {
		return nil
	}
	out := make([]domain.SessionMessage, len(in), len(in)+2)
	copy(out, in)
	return out
}
