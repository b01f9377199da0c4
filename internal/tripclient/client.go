// Package tripclient is the entry point the UI layer calls. It validates
// input and delegates to one job orchestrator per owner key, one session
// reconciler per conversation and a shared progress adapter.
package tripclient

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/job"
	"github.com/ashureev/tripsync/internal/progress"
	"github.com/ashureev/tripsync/internal/session"
	"github.com/ashureev/tripsync/internal/shared"
	"github.com/ashureev/tripsync/internal/store"
	"github.com/ashureev/tripsync/internal/transport"
)

var (
	// ErrEmptyContent is returned for blank chat messages.
	ErrEmptyContent = session.ErrEmptyContent
	// ErrEmptyOwnerKey is returned when no owner key is given.
	ErrEmptyOwnerKey = errors.New("owner key is empty")
	// ErrGalleryInProgress is returned, together with the active
	// orchestrator, when a gallery job is already running for the key.
	ErrGalleryInProgress = errors.New("gallery generation already in progress")
	// ErrUnknownSession is returned for session ids this client never created.
	ErrUnknownSession = errors.New("unknown session")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
	// ErrUnsupported is returned when a collaborator was not configured.
	ErrUnsupported = errors.New("operation not supported by configured transport")
)

// Deps are the transport collaborators. Any of them may be nil when the
// corresponding operations are not used.
type Deps struct {
	Jobs     transport.JobTransport
	Chat     transport.ChatTransport
	Sessions transport.SessionTransport
	Progress transport.ProgressStream
}

// Client composes the orchestration engine.
type Client struct {
	deps        Deps
	logger      *slog.Logger
	clk         clock.Clock
	journal     store.Journal
	jobOpts     []job.Option
	sessionOpts []session.Option
	progress    *progress.Adapter

	mu       sync.Mutex
	jobs     map[string]*job.Orchestrator
	sessions map[string]*session.Reconciler
	closed   bool
}

// New creates a client over deps.
func New(deps Deps, opts ...Option) *Client {
	c := &Client{
		deps:     deps,
		logger:   slog.Default(),
		clk:      clock.Real{},
		journal:  store.Noop{},
		jobs:     make(map[string]*job.Orchestrator),
		sessions: make(map[string]*session.Reconciler),
	}
	var progressOpts []progress.Option
	for _, opt := range opts {
		if opt != nil {
			opt(c, &progressOpts)
		}
	}
	if deps.Progress != nil {
		progressOpts = append([]progress.Option{progress.WithLogger(c.logger), progress.WithClock(c.clk)}, progressOpts...)
		c.progress = progress.NewAdapter(deps.Progress, progressOpts...)
	}
	return c
}

// RequestGallery starts gallery generation for ownerKey. While a job for
// the key is pending or processing, including one that stalled at the poll
// ceiling, the existing orchestrator is returned with ErrGalleryInProgress
// and nothing is sent. Once the previous job completed or failed a new
// request is a fresh attempt. CancelGallery releases a stalled job.
func (c *Client) RequestGallery(ctx context.Context, ownerKey string) (*job.Orchestrator, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return nil, ErrEmptyOwnerKey
	}
	if c.deps.Jobs == nil {
		return nil, ErrUnsupported
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if prev, ok := c.jobs[ownerKey]; ok {
		if inProgress(prev) {
			c.mu.Unlock()
			c.logger.Debug("Gallery request ignored, job already active", "owner_key", ownerKey)
			return prev, ErrGalleryInProgress
		}
		prev.Dispose()
	}

	opts := append([]job.Option{
		job.WithLogger(c.logger),
		job.WithClock(c.clk),
		job.WithJournal(c.journal),
	}, c.jobOpts...)
	o := job.NewOrchestrator(ownerKey, c.deps.Jobs, opts...)
	c.jobs[ownerKey] = o
	c.mu.Unlock()

	o.Start(context.WithoutCancel(ctx))
	return o, nil
}

// CancelGallery stops tracking the job for ownerKey. It reports whether a
// job was registered.
func (c *Client) CancelGallery(ownerKey string) bool {
	c.mu.Lock()
	o, ok := c.jobs[ownerKey]
	delete(c.jobs, ownerKey)
	c.mu.Unlock()
	if ok {
		o.Dispose()
	}
	return ok
}

// Gallery returns the orchestrator last started for ownerKey.
func (c *Client) Gallery(ownerKey string) (*job.Orchestrator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.jobs[ownerKey]
	return o, ok
}

// NewSession creates a fresh conversation and returns its local id.
func (c *Client) NewSession() (string, *session.Reconciler) {
	opts := append([]session.Option{
		session.WithLogger(c.logger),
		session.WithClock(c.clk),
		session.WithJournal(c.journal),
	}, c.sessionOpts...)
	r := session.New(c.deps.Chat, c.deps.Sessions, opts...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		r.Close()
		return r.ID(), r
	}
	c.sessions[r.ID()] = r
	return r.ID(), r
}

// Session returns the reconciler for sessionID.
func (c *Client) Session(sessionID string) (*session.Reconciler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	r, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return r, nil
}

// SendMessage sends content in sessionID.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (domain.SessionMessage, error) {
	if strings.TrimSpace(content) == "" {
		return domain.SessionMessage{}, ErrEmptyContent
	}
	if c.deps.Chat == nil {
		return domain.SessionMessage{}, ErrUnsupported
	}
	r, err := c.Session(sessionID)
	if err != nil {
		return domain.SessionMessage{}, err
	}
	return r.Send(ctx, content)
}

// OpenSession points sessionID at an existing server thread and loads its
// transcript. An empty threadID starts over.
func (c *Client) OpenSession(ctx context.Context, sessionID, threadID string) error {
	r, err := c.Session(sessionID)
	if err != nil {
		return err
	}
	return r.SwitchTo(ctx, strings.TrimSpace(threadID))
}

// EndSession forgets sessionID locally. The server thread is kept.
func (c *Client) EndSession(sessionID string) {
	c.mu.Lock()
	r, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if ok {
		r.Close()
	}
}

// DeleteSession deletes threadID on the server. Local sessions showing it
// are cleared.
func (c *Client) DeleteSession(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ErrUnknownSession
	}
	if c.deps.Sessions == nil {
		return ErrUnsupported
	}

	c.mu.Lock()
	var holders []*session.Reconciler
	for _, r := range c.sessions {
		if r.ThreadID() == threadID {
			holders = append(holders, r)
		}
	}
	c.mu.Unlock()

	if len(holders) == 0 {
		if err := c.deps.Sessions.DeleteSession(ctx, threadID); err != nil {
			return shared.Classify(err)
		}
		return nil
	}
	if err := holders[0].Delete(ctx, threadID); err != nil {
		return err
	}
	for _, r := range holders[1:] {
		if err := r.SwitchTo(ctx, ""); err != nil {
			c.logger.Warn("Failed to clear session after delete", "session_id", r.ID(), "error", err)
		}
	}
	return nil
}

// ListSessions lists the caller's server-side conversations.
func (c *Client) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	if c.deps.Sessions == nil {
		return nil, ErrUnsupported
	}
	out, err := c.deps.Sessions.ListSessions(ctx)
	if err != nil {
		return nil, shared.Classify(err)
	}
	return out, nil
}

// SubscribeProgress registers listener for progress events on key.
func (c *Client) SubscribeProgress(ctx context.Context, key string, listener progress.Listener) (progress.Unsubscribe, error) {
	if c.progress == nil {
		return nil, ErrUnsupported
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return c.progress.Subscribe(ctx, key, listener)
}

// Progress exposes connection state, active sources and history.
func (c *Client) Progress() *progress.Adapter {
	return c.progress
}

// Close disposes every job, session and stream.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	jobs := c.jobs
	sessions := c.sessions
	c.jobs = make(map[string]*job.Orchestrator)
	c.sessions = make(map[string]*session.Reconciler)
	c.mu.Unlock()

	for _, o := range jobs {
		o.Dispose()
	}
	for _, r := range sessions {
		r.Close()
	}
	if c.progress != nil {
		c.progress.Close()
	}
}

// inProgress reports whether o still owns its key. A stalled job has
// stopped polling but is still processing on the server.
func inProgress(o *job.Orchestrator) bool {
	if !ended(o) {
		return true
	}
	return !o.Disposed() && o.Snapshot().Status.Active()
}

func ended(o *job.Orchestrator) bool {
	select {
	case <-o.Done():
		return true
	default:
		return false
	}
}
