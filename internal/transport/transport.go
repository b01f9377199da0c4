// Package transport defines the collaborator interfaces the orchestration
// engine talks to and ships an HTTP/SSE/websocket implementation of them.
package transport

import (
	"context"

	"github.com/ashureev/tripsync/internal/domain"
)

// TokenProvider returns the bearer credential for a request. The result is
// forwarded as-is and never cached.
type TokenProvider func(ctx context.Context) (string, error)

// JobRecord is the server's view of a gallery job.
type JobRecord struct {
	ID       string
	OwnerKey string
	Status   domain.JobStatus
	// Error carries the server-side failure message for failed jobs.
	Error string
}

// JobTransport submits and inspects gallery generation jobs.
type JobTransport interface {
	SubmitJob(ctx context.Context, ownerKey string) (JobRecord, error)
	GetJob(ctx context.Context, jobID string) (JobRecord, error)
	DeleteJob(ctx context.Context, jobID string) error
	ListSubResources(ctx context.Context, jobID string) ([]domain.GalleryPlace, error)
	// FindJob returns the job currently held by ownerKey.
	FindJob(ctx context.Context, ownerKey string) (JobRecord, error)
}

// PhotoLister is implemented by job transports that can list the photos of
// a single gallery place.
type PhotoLister interface {
	ListPlacePhotos(ctx context.Context, jobID, placeID string) ([]domain.GalleryPhoto, error)
}

// ChatRequest is one user turn. An empty ThreadID asks the server to start
// a new conversation.
type ChatRequest struct {
	Content  string
	ThreadID string
}

// ChatReply is the assistant's answer and the thread it belongs to.
type ChatReply struct {
	Content  string
	ThreadID string
}

// ChatTransport sends chat turns.
type ChatTransport interface {
	SendChat(ctx context.Context, req ChatRequest) (ChatReply, error)
}

// SessionTransport manages server-side conversations.
type SessionTransport interface {
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)
	GetMessages(ctx context.Context, threadID string) ([]domain.ServerMessage, error)
	DeleteSession(ctx context.Context, threadID string) error
}

// Frame is a raw progress frame as read off the wire.
type Frame struct {
	// Seq is the per-connection sequence number, 0 when the server sent none.
	Seq      int64
	SourceID string
	// Type is the wire event type: a phase name or a control frame.
	Type    string
	Message string
	Data    map[string]any
}

// FrameReader yields frames from one open stream connection.
type FrameReader interface {
	Recv() (Frame, error)
	Close() error
}

// ProgressStream opens push streams keyed by a job or session correlation id.
type ProgressStream interface {
	Open(ctx context.Context, key string) (FrameReader, error)
}
