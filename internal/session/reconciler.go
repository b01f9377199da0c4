// Package session keeps the optimistic local timeline of one conversation
// consistent with the server's record of it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/fanout"
	"github.com/ashureev/tripsync/internal/shared"
	"github.com/ashureev/tripsync/internal/store"
	"github.com/ashureev/tripsync/internal/transport"
)

var (
	// ErrEmptyContent is returned for blank messages.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrDuplicateInFlight is returned when identical content is already
	// being sent in this session.
	ErrDuplicateInFlight = errors.New("identical message already in flight")
	// ErrSessionSwitched is returned when the session was switched or closed
	// while a send was in flight. The reply is discarded.
	ErrSessionSwitched = errors.New("session switched while message was in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

type flightKey struct {
	generation int
	content    string
}

// Reconciler owns one conversation session.
type Reconciler struct {
	id       string
	chat     transport.ChatTransport
	sessions transport.SessionTransport
	clk      clock.Clock
	logger   *slog.Logger
	journal  store.Journal
	newID    func() string

	hub *fanout.Hub[domain.ConversationSession]

	mu         sync.Mutex
	events     []Event
	state      domain.ConversationSession
	generation int
	inFlight   map[flightKey]int
	closed     bool
}

// New creates a reconciler for a fresh session. sessions may be nil, in
// which case SwitchTo does not hydrate and Delete is unavailable.
func New(chat transport.ChatTransport, sessions transport.SessionTransport, opts ...Option) *Reconciler {
	r := &Reconciler{
		chat:     chat,
		sessions: sessions,
		clk:      clock.Real{},
		logger:   slog.Default(),
		journal:  store.Noop{},
		newID:    uuid.NewString,
		inFlight: make(map[flightKey]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.id == "" {
		r.id = r.newID()
	}
	r.logger = r.logger.With("session_id", r.id)
	r.hub = fanout.NewHub[domain.ConversationSession](16, r.logger)
	return r
}

// ID returns the local session id.
func (r *Reconciler) ID() string {
	return r.id
}

// ThreadID returns the adopted server thread id, or "".
func (r *Reconciler) ThreadID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ThreadID
}

// Snapshot returns the current timeline.
func (r *Reconciler) Snapshot() domain.ConversationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Events returns a copy of the event log.
func (r *Reconciler) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Subscribe returns a channel of timeline snapshots.
func (r *Reconciler) Subscribe() (<-chan domain.ConversationSession, func()) {
	return r.hub.Subscribe()
}

// Send appends content optimistically, sends it, and reconciles the
// timeline with the reply. On failure the returned message is the errored
// user message and the error is a *shared.Error.
func (r *Reconciler) Send(ctx context.Context, content string) (domain.SessionMessage, error) {
	if strings.TrimSpace(content) == "" {
		return domain.SessionMessage{}, ErrEmptyContent
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.SessionMessage{}, ErrClosed
	}
	key := flightKey{generation: r.generation, content: content}
	if r.inFlight[key] > 0 {
		r.mu.Unlock()
		return domain.SessionMessage{}, ErrDuplicateInFlight
	}
	r.inFlight[key]++
	gen := r.generation
	threadID := r.state.ThreadID
	userID, placeholderID := r.newID(), r.newID()
	r.appendLocked(Event{Kind: EventSubmitted, UserID: userID, PlaceholderID: placeholderID, Content: content})
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight[key]--
		if r.inFlight[key] <= 0 {
			delete(r.inFlight, key)
		}
		r.mu.Unlock()
	}()

	reply, err := r.chat.SendChat(ctx, transport.ChatRequest{Content: content, ThreadID: threadID})

	r.mu.Lock()
	if r.closed || gen != r.generation {
		r.mu.Unlock()
		r.logger.Debug("Discarding chat completion for previous session", "generation", gen)
		return domain.SessionMessage{}, ErrSessionSwitched
	}

	if err != nil {
		ce := shared.Classify(err)
		r.appendLocked(Event{Kind: EventFailed, UserID: userID, PlaceholderID: placeholderID, Content: failureText(ce), Err: ce})
		msg, _ := r.messageLocked(userID)
		r.mu.Unlock()
		r.logger.Warn("Chat send failed", "error", ce, "kind", ce.Kind)
		return msg, ce
	}

	var adopted, conflict string
	if reply.ThreadID != "" {
		switch current := r.state.ThreadID; {
		case current == "":
			adopted = reply.ThreadID
			r.appendLocked(Event{Kind: EventThreadAdopted, ThreadID: reply.ThreadID})
		case current != reply.ThreadID:
			conflict = reply.ThreadID
			r.appendLocked(Event{Kind: EventThreadConflict, ThreadID: reply.ThreadID})
		}
	}
	r.appendLocked(Event{Kind: EventConfirmed, UserID: userID, PlaceholderID: placeholderID, Content: reply.Content})
	msg, _ := r.messageLocked(placeholderID)
	current := r.state.ThreadID
	r.mu.Unlock()

	if adopted != "" {
		r.logger.Info("Adopted thread id", "thread_id", adopted)
		r.record(ctx, string(EventThreadAdopted), adopted, "")
	}
	if conflict != "" {
		r.logger.Warn("Ignoring conflicting thread id", "thread_id", current, "conflicting_thread_id", conflict)
		r.record(ctx, string(EventThreadConflict), current, conflict)
	}
	return msg, nil
}

// SwitchTo clears the timeline. With a non-empty threadID the thread is
// adopted and its transcript hydrated from the server. Nothing is deleted
// server-side.
func (r *Reconciler) SwitchTo(ctx context.Context, threadID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.generation++
	gen := r.generation
	r.appendLocked(Event{Kind: EventCleared, ThreadID: threadID})
	r.mu.Unlock()

	if threadID == "" || r.sessions == nil {
		return nil
	}

	msgs, err := r.sessions.GetMessages(ctx, threadID)
	if err != nil {
		ce := shared.Classify(err)
		r.logger.Warn("Failed to load conversation", "thread_id", threadID, "error", ce)
		return ce
	}

	hydrated := make([]domain.SessionMessage, 0, len(msgs))
	for _, m := range msgs {
		hydrated = append(hydrated, domain.SessionMessage{
			LocalID:   r.newID(),
			Role:      m.Role,
			Content:   m.Content,
			State:     domain.MessageConfirmed,
			ServerID:  m.ID,
			CreatedAt: m.CreatedAt,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.generation {
		return ErrSessionSwitched
	}
	r.appendLocked(Event{Kind: EventHydrated, ThreadID: threadID, Messages: hydrated})
	return nil
}

// Delete removes threadID on the server and clears the timeline when it is
// the active thread.
func (r *Reconciler) Delete(ctx context.Context, threadID string) error {
	if r.sessions == nil {
		return shared.New(shared.KindOther, "unsupported", "session transport not configured")
	}
	if err := r.sessions.DeleteSession(ctx, threadID); err != nil {
		return shared.Classify(err)
	}
	r.record(ctx, "deleted", threadID, "")
	if r.ThreadID() == threadID {
		return r.SwitchTo(ctx, "")
	}
	return nil
}

// Close stops publishing and rejects further operations. In-flight sends
// are discarded when they complete.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.hub.Close()
}

// appendLocked appends ev to the log, advances the projection and
// publishes it. Must be called with r.mu held.
func (r *Reconciler) appendLocked(ev Event) {
	ev.Seq = len(r.events) + 1
	ev.At = r.clk.Now()
	ev.Generation = r.generation
	r.events = append(r.events, ev)
	r.state = apply(r.state, ev)
	r.hub.Publish(r.state.Clone())
}

func (r *Reconciler) messageLocked(localID string) (domain.SessionMessage, bool) {
	for _, m := range r.state.Messages {
		if m.LocalID == localID {
			return m, true
		}
	}
	return domain.SessionMessage{}, false
}

func (r *Reconciler) record(ctx context.Context, event, threadID, detail string) {
	entry := store.SessionEntry{SessionID: r.id, ThreadID: threadID, Event: event, Detail: detail, At: r.clk.Now()}
	if err := r.journal.RecordSession(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("Failed to journal session event", "event", event, "error", err)
	}
}

// failureText is the assistant-side explanation shown for a failed send.
func failureText(err *shared.Error) string {
	switch err.Kind {
	case shared.KindPermissionDenied:
		return err.Message
	case shared.KindTransient:
		return "I couldn't reach the travel assistant. Please check your connection and send your message again."
	default:
		return "Sorry, something went wrong while answering. Please try sending your message again."
	}
}
