package domain

import (
	"time"

	"github.com/ashureev/tripsync/internal/shared"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageState tracks how far a message got through the round trip.
type MessageState string

const (
	MessageOptimistic MessageState = "optimistic"
	MessageConfirmed  MessageState = "confirmed"
	MessageErrored    MessageState = "errored"
)

// SessionMessage is one entry in the local conversation timeline.
type SessionMessage struct {
	LocalID  string
	Role     Role
	Content  string
	State    MessageState
	Error    *shared.Error
	ServerID string
	// ReplyTo links an assistant reply to the user message that prompted it.
	ReplyTo   string
	CreatedAt time.Time
}

// ConversationSession is the rendered state of one conversation.
type ConversationSession struct {
	ThreadID string
	Messages []SessionMessage
}

// HasThread reports whether a server thread id has been adopted.
func (s ConversationSession) HasThread() bool {
	return s.ThreadID != ""
}

// Clone returns a deep copy of the session.
func (s ConversationSession) Clone() ConversationSession {
	out := ConversationSession{ThreadID: s.ThreadID}
	if s.Messages != nil {
		out.Messages = append([]SessionMessage(nil), s.Messages...)
	}
	return out
}

// SessionSummary is a server-side conversation listing entry.
type SessionSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"last_message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ServerMessage is a message as stored by the server.
type ServerMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
