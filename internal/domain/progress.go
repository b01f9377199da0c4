package domain

import "time"

// Phase is the kind of a progress event emitted by an agent.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseThinking Phase = "thinking"
	PhaseToolCall Phase = "tool_call"
	PhaseResult   Phase = "result"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// Control frames carried by the agent stream. They are never delivered as
// progress events.
const (
	FrameConnected = "connected"
	FramePing      = "ping"
)

// ParsePhase maps a wire event type onto a Phase.
func ParsePhase(s string) (Phase, bool) {
	switch p := Phase(s); p {
	case PhaseStart, PhaseThinking, PhaseToolCall, PhaseResult, PhaseComplete, PhaseError:
		return p, true
	}
	return "", false
}

// IsControlFrame reports whether s names a stream control frame.
func IsControlFrame(s string) bool {
	return s == FrameConnected || s == FramePing
}

// ProgressEvent is an immutable, ordered progress notification.
type ProgressEvent struct {
	Sequence   int64
	Phase      Phase
	SourceID   string
	Message    string
	Data       map[string]any
	ReceivedAt time.Time
}
