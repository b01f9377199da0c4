// Package job drives a single gallery generation job from submission to a
// terminal state: submit, poll on a fixed cadence, fetch resources on
// completion, and remediate a failed job that blocks resubmission.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/fanout"
	"github.com/ashureev/tripsync/internal/retry"
	"github.com/ashureev/tripsync/internal/shared"
	"github.com/ashureev/tripsync/internal/store"
	"github.com/ashureev/tripsync/internal/transport"
)

var (
	// ErrStopped is returned by Run when the orchestrator was disposed or its
	// context cancelled before the job reached a terminal state.
	ErrStopped = errors.New("job tracking stopped")
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("job tracking already started")

	errStillRunning = errors.New("job still running")
	errRemediated   = errors.New("failed job deleted")
)

// Orchestrator owns the GenerationJob for one owner key.
type Orchestrator struct {
	ownerKey string
	tr       transport.JobTransport
	clk      clock.Clock
	logger   *slog.Logger
	journal  store.Journal

	pollInterval     time.Duration
	maxPolls         int
	remediationDelay time.Duration
	photoConcurrency int

	hub      *fanout.Hub[domain.GenerationJob]
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	job      domain.GenerationJob
	started  bool
	disposed bool
	cancel   context.CancelFunc
}

// NewOrchestrator creates an orchestrator for ownerKey. Nothing is sent
// until Start or Run is called.
func NewOrchestrator(ownerKey string, tr transport.JobTransport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ownerKey:         ownerKey,
		tr:               tr,
		clk:              clock.Real{},
		logger:           slog.Default(),
		journal:          store.Noop{},
		pollInterval:     DefaultPollInterval,
		maxPolls:         DefaultMaxPolls,
		remediationDelay: DefaultRemediationDelay,
		photoConcurrency: DefaultPhotoConcurrency,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = o.logger.With("owner_key", ownerKey)
	o.hub = fanout.NewHub[domain.GenerationJob](16, o.logger)
	o.job = domain.GenerationJob{OwnerKey: ownerKey, Status: domain.JobPending, UpdatedAt: o.clk.Now()}
	return o
}

// OwnerKey returns the key this orchestrator tracks.
func (o *Orchestrator) OwnerKey() string {
	return o.ownerKey
}

// Start runs the job in a background goroutine.
func (o *Orchestrator) Start(ctx context.Context) {
	go func() {
		if _, err := o.Run(ctx); err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, ErrAlreadyStarted) {
			o.logger.Warn("Gallery job ended with error", "error", err)
		}
	}()
}

// Run submits and tracks the job until it completes, fails, stalls at the
// poll ceiling, or is stopped. Failures are returned as *shared.Error; a
// stall returns a nil error with Stalled set on the snapshot.
func (o *Orchestrator) Run(ctx context.Context) (domain.GenerationJob, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return o.Snapshot(), ErrAlreadyStarted
	}
	o.started = true
	if o.disposed {
		o.mu.Unlock()
		o.finish()
		return o.Snapshot(), ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	defer o.finish()
	defer cancel()

	err := o.track(ctx)
	return o.Snapshot(), err
}

// Subscribe returns a channel of job snapshots. The channel is closed when
// tracking ends or the orchestrator is disposed.
func (o *Orchestrator) Subscribe() (<-chan domain.GenerationJob, func()) {
	return o.hub.Subscribe()
}

// Snapshot returns the current job state.
func (o *Orchestrator) Snapshot() domain.GenerationJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job.Clone()
}

// Done is closed once tracking has ended.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Dispose stops future polls. A transport call already in flight is left to
// finish and its response is discarded.
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	cancel := o.cancel
	started := o.started
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.hub.Close()
	if !started {
		o.finish()
	}
	o.logger.Debug("Gallery orchestrator disposed")
}

// Disposed reports whether Dispose was called.
func (o *Orchestrator) Disposed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disposed
}

func (o *Orchestrator) finish() {
	o.doneOnce.Do(func() {
		o.hub.Close()
		close(o.done)
	})
}

func (o *Orchestrator) track(ctx context.Context) error {
	rec, err := o.submit(ctx)
	if err != nil {
		return o.fail(ctx, err)
	}
	switch rec.Status {
	case domain.JobCompleted:
		return o.complete(ctx, rec.ID)
	case domain.JobFailed:
		return o.failObserved(ctx, rec)
	}
	return o.poll(ctx, rec.ID)
}

// submit sends the job. On AlreadyExists it inspects the job holding the
// owner key: a failed one is deleted and the submit is retried once, any
// other is adopted.
func (o *Orchestrator) submit(ctx context.Context) (transport.JobRecord, error) {
	policy := retry.Policy{
		MaxAttempts: 2,
		Backoff:     retry.Fixed(o.remediationDelay),
		Retryable:   func(err error) bool { return errors.Is(err, errRemediated) },
	}
	return retry.Do(ctx, o.clk, policy, func(ctx context.Context, attempt int) (transport.JobRecord, error) {
		if attempt > 1 {
			o.update(func(j *domain.GenerationJob) {
				j.RetryCount++
				j.ID = ""
				j.Polls = 0
				o.transition(j, domain.JobPending)
			})
		}

		rec, err := detached(ctx, func(c context.Context) (transport.JobRecord, error) {
			return o.tr.SubmitJob(c, o.ownerKey)
		})
		if err == nil {
			o.accept(ctx, rec, "submitted")
			return rec, nil
		}
		if attempt > 1 || !errors.Is(err, shared.ErrAlreadyExists) {
			return rec, err
		}
		return o.inspectExisting(ctx, err)
	})
}

func (o *Orchestrator) inspectExisting(ctx context.Context, cause error) (transport.JobRecord, error) {
	existing, err := detached(ctx, func(c context.Context) (transport.JobRecord, error) {
		return o.tr.FindJob(c, o.ownerKey)
	})
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return transport.JobRecord{}, err
		}
		o.logger.Warn("Failed to inspect existing gallery job", "error", err)
		return transport.JobRecord{}, cause
	}

	if existing.Status != domain.JobFailed {
		o.logger.Info("Adopting existing gallery job", "job_id", existing.ID, "status", existing.Status)
		o.accept(ctx, existing, "adopted")
		return existing, nil
	}

	o.update(func(j *domain.GenerationJob) {
		j.ID = existing.ID
		j.LastError = shared.Classify(cause)
		o.transition(j, domain.JobFailed)
	})
	if _, err := detached(ctx, func(c context.Context) (struct{}, error) {
		return struct{}{}, o.tr.DeleteJob(c, existing.ID)
	}); err != nil {
		return transport.JobRecord{}, err
	}
	o.logger.Info("Deleted failed gallery job, resubmitting", "job_id", existing.ID, "delay", o.remediationDelay)
	o.record(ctx, "remediated", existing.Error)
	return transport.JobRecord{}, errRemediated
}

func (o *Orchestrator) accept(ctx context.Context, rec transport.JobRecord, event string) {
	o.update(func(j *domain.GenerationJob) {
		j.ID = rec.ID
		j.LastError = nil
		o.transition(j, rec.Status)
	})
	o.logger.Info("Gallery job accepted", "job_id", rec.ID, "status", rec.Status, "event", event)
	o.record(ctx, event, "")
}

// poll waits one interval before every poll and stops after maxPolls.
func (o *Orchestrator) poll(ctx context.Context, jobID string) error {
	policy := retry.Policy{
		MaxAttempts: o.maxPolls,
		Backoff:     retry.Fixed(o.pollInterval),
		Retryable: func(err error) bool {
			return errors.Is(err, errStillRunning) || shared.IsRetryable(err)
		},
	}

	if err := o.clk.Sleep(ctx, o.pollInterval); err != nil {
		return o.fail(ctx, err)
	}
	rec, err := retry.Do(ctx, o.clk, policy, func(ctx context.Context, attempt int) (transport.JobRecord, error) {
		rec, err := detached(ctx, func(c context.Context) (transport.JobRecord, error) {
			return o.tr.GetJob(c, jobID)
		})
		if errors.Is(err, ErrStopped) {
			return rec, err
		}

		o.update(func(j *domain.GenerationJob) {
			j.Polls = attempt
			if err != nil {
				j.LastError = shared.Classify(err)
				return
			}
			j.LastError = nil
			o.transition(j, rec.Status)
		})
		if err != nil {
			o.logger.Debug("Gallery poll failed", "job_id", jobID, "poll", attempt, "error", err)
			return rec, err
		}
		if rec.Status.Active() {
			return rec, errStillRunning
		}
		return rec, nil
	})

	switch {
	case err == nil && rec.Status == domain.JobCompleted:
		return o.complete(ctx, jobID)
	case err == nil:
		return o.failObserved(ctx, rec)
	case retry.IsExhausted(err):
		return o.stall(ctx, err)
	default:
		return o.fail(ctx, err)
	}
}

// stall is the soft timeout: the job stays processing and no error is
// reported.
func (o *Orchestrator) stall(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return ErrStopped
	}
	o.update(func(j *domain.GenerationJob) {
		j.Stalled = true
		o.transition(j, domain.JobProcessing)
		if errors.Is(cause, errStillRunning) {
			j.LastError = nil
		}
	})
	snap := o.Snapshot()
	o.logger.Info("Gallery job still processing after poll ceiling", "job_id", snap.ID, "polls", snap.Polls)
	o.record(ctx, "stalled", "")
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, jobID string) error {
	places, err := detached(ctx, func(c context.Context) ([]domain.GalleryPlace, error) {
		return o.tr.ListSubResources(c, jobID)
	})
	if err == nil {
		places, err = o.fetchPhotos(ctx, jobID, places)
	}
	if errors.Is(err, ErrStopped) {
		return ErrStopped
	}

	o.update(func(j *domain.GenerationJob) {
		o.transition(j, domain.JobCompleted)
		j.Resources = places
		j.LastError = nil
		if err != nil {
			j.LastError = shared.Wrap(shared.KindTransient, err, "fetch gallery resources")
		}
	})
	if err != nil {
		o.logger.Warn("Gallery completed but resources could not be fetched", "job_id", jobID, "error", err)
		o.record(ctx, "completed", err.Error())
		return nil
	}
	o.logger.Info("Gallery job completed", "job_id", jobID, "places", len(places))
	o.record(ctx, "completed", "")
	return nil
}

// fetchPhotos loads the photos of every place when the transport supports
// it. On error the places are returned without photos.
func (o *Orchestrator) fetchPhotos(ctx context.Context, jobID string, places []domain.GalleryPlace) ([]domain.GalleryPlace, error) {
	lister, ok := o.tr.(transport.PhotoLister)
	if !ok || len(places) == 0 {
		return places, nil
	}

	out := make([]domain.GalleryPlace, len(places))
	copy(out, places)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(o.photoConcurrency)
	for i := range out {
		g.Go(func() error {
			photos, err := lister.ListPlacePhotos(gctx, jobID, out[i].ID)
			if err != nil {
				return fmt.Errorf("list photos for place %s: %w", out[i].ID, err)
			}
			out[i].Photos = photos
			return nil
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil, ErrStopped
	}
	if err != nil {
		return places, err
	}
	return out, nil
}

func (o *Orchestrator) failObserved(ctx context.Context, rec transport.JobRecord) error {
	msg := rec.Error
	if msg == "" {
		msg = "gallery generation failed"
	}
	return o.fail(ctx, shared.New(shared.KindOther, "job_failed", msg))
}

func (o *Orchestrator) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrStopped) {
		return ErrStopped
	}
	classified := shared.Classify(err)
	o.update(func(j *domain.GenerationJob) {
		j.LastError = classified
		o.transition(j, domain.JobFailed)
	})
	o.logger.Warn("Gallery job failed", "error", classified, "kind", classified.Kind)
	o.record(ctx, "failed", classified.Error())
	return classified
}

// transition moves j to next when the lifecycle allows it. Must be called
// with o.mu held.
func (o *Orchestrator) transition(j *domain.GenerationJob, next domain.JobStatus) {
	if j.Status == next {
		return
	}
	if !j.Status.CanTransition(next) {
		o.logger.Warn("Ignoring illegal job transition", "from", j.Status, "to", next)
		return
	}
	j.Status = next
}

// update applies fn and publishes the result. Nothing is published once the
// orchestrator is disposed.
func (o *Orchestrator) update(fn func(j *domain.GenerationJob)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return
	}
	fn(&o.job)
	o.job.UpdatedAt = o.clk.Now()
	o.hub.Publish(o.job.Clone())
}

func (o *Orchestrator) record(ctx context.Context, event, msg string) {
	snap := o.Snapshot()
	entry := store.JobEntry{
		OwnerKey:   snap.OwnerKey,
		JobID:      snap.ID,
		Event:      event,
		Status:     string(snap.Status),
		RetryCount: snap.RetryCount,
		Polls:      snap.Polls,
		Message:    msg,
		At:         o.clk.Now(),
	}
	if snap.LastError != nil {
		entry.ErrorKind = string(snap.LastError.Kind)
	}
	if err := o.journal.RecordJob(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Warn("Failed to journal job event", "event", event, "error", err)
	}
}

// detached runs fn without propagating cancellation so an in-flight call is
// never aborted. If ctx was cancelled meanwhile the result is discarded.
func detached[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(context.WithoutCancel(ctx))
	if ctx.Err() != nil {
		var zero T
		return zero, ErrStopped
	}
	return v, err
}
