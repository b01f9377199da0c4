// Package progress turns a raw agent progress stream into ordered,
// de-duplicated ProgressEvents for any number of listeners. The stream is
// advisory: on error it disconnects, drops its listeners and stays
// disconnected until the next Subscribe.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/shared"
	"github.com/ashureev/tripsync/internal/transport"
)

const defaultHistory = 64

var (
	// ErrEmptyKey is returned when subscribing without a correlation key.
	ErrEmptyKey = errors.New("progress key is empty")
	// ErrClosed is returned to a subscriber whose stream was closed before
	// it finished opening.
	ErrClosed = errors.New("progress stream closed")
)

// State is the connection state for one key.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

// Listener receives events in sequence order. It runs on the stream's
// reader goroutine and must not block for long.
type Listener func(domain.ProgressEvent)

// Unsubscribe stops delivery to one listener. The last one closes the stream.
type Unsubscribe func()

// openAttempt lets subscribers that arrive during an open wait for its
// outcome. err is written before done is closed.
type openAttempt struct {
	done chan struct{}
	err  error
}

// feed is the per-key state. It outlives individual connections so that,
// without sequence reset, Recent and the high-water mark survive a
// reconnect.
type feed struct {
	key       string
	state     State
	reader    transport.FrameReader
	opening   *openAttempt
	conn      int // incremented for every connection
	highWater int64
	active    map[string]struct{}
	recent    *ring[domain.ProgressEvent]
	listeners map[int64]Listener
	nextID    int64
	lastErr   error
}

// Adapter multiplexes progress streams by key.
type Adapter struct {
	stream        transport.ProgressStream
	resetSequence bool
	historySize   int
	clk           clock.Clock
	logger        *slog.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

// NewAdapter creates an adapter reading from stream.
func NewAdapter(stream transport.ProgressStream, opts ...Option) *Adapter {
	a := &Adapter{
		stream:        stream,
		resetSequence: true,
		historySize:   defaultHistory,
		clk:           clock.Real{},
		logger:        slog.Default(),
		feeds:         make(map[string]*feed),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *Adapter) feedLocked(key string) *feed {
	f, ok := a.feeds[key]
	if !ok {
		f = &feed{
			key:       key,
			state:     StateIdle,
			active:    make(map[string]struct{}),
			recent:    newRing[domain.ProgressEvent](a.historySize),
			listeners: make(map[int64]Listener),
		}
		a.feeds[key] = f
	}
	return f
}

// Subscribe registers l for events on key, opening the stream if no
// connection is live. The connection is shared by every listener on key and
// lives until the last Unsubscribe or a stream error; ctx only bounds the
// open.
func (a *Adapter) Subscribe(ctx context.Context, key string, l Listener) (Unsubscribe, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if l == nil {
		return nil, errors.New("listener is nil")
	}

	a.mu.Lock()
	f := a.feedLocked(key)
	f.nextID++
	id := f.nextID
	f.listeners[id] = l

	pending := f.opening
	needOpen := f.reader == nil && pending == nil
	var lastSeq int64
	if needOpen {
		pending = &openAttempt{done: make(chan struct{})}
		f.opening = pending
		f.state = StateConnecting
		f.conn++
		if a.resetSequence {
			f.highWater = 0
			f.active = make(map[string]struct{})
			f.recent.reset()
		}
		lastSeq = f.highWater
	}
	conn := f.conn
	a.mu.Unlock()

	unsubscribe := a.unsubscriber(f, id)
	if !needOpen {
		if pending == nil {
			return unsubscribe, nil
		}
		return a.awaitOpen(ctx, f, id, pending, unsubscribe)
	}

	reader, err := a.open(ctx, key, lastSeq)

	a.mu.Lock()
	f.opening = nil
	pending.err = err
	close(pending.done)
	if err != nil {
		f.state = StateDisconnected
		f.lastErr = err
		// Subscribers waiting on this open get the same error.
		f.listeners = make(map[int64]Listener)
		a.mu.Unlock()
		a.logger.Warn("Failed to open progress stream", "key", key, "error", err)
		return nil, shared.Classify(err)
	}
	if len(f.listeners) == 0 {
		// Everyone left while the stream was opening.
		f.state = StateClosed
		a.mu.Unlock()
		_ = reader.Close()
		return unsubscribe, nil
	}
	// Listeners that joined after everyone else left take over this
	// connection.
	conn = f.conn
	f.reader = reader
	f.state = StateConnected
	f.lastErr = nil
	a.mu.Unlock()

	a.logger.Debug("Progress stream connected", "key", key, "resume_after", lastSeq)
	go a.readLoop(f, reader, conn)
	return unsubscribe, nil
}

// awaitOpen blocks a subscriber that joined a connection still being opened
// until the open settles.
func (a *Adapter) awaitOpen(ctx context.Context, f *feed, id int64, pending *openAttempt, unsubscribe Unsubscribe) (Unsubscribe, error) {
	select {
	case <-pending.done:
	case <-ctx.Done():
		unsubscribe()
		return nil, ctx.Err()
	}
	if pending.err != nil {
		return nil, shared.Classify(pending.err)
	}

	a.mu.Lock()
	_, ok := f.listeners[id]
	a.mu.Unlock()
	if !ok {
		return nil, ErrClosed
	}
	return unsubscribe, nil
}

func (a *Adapter) open(ctx context.Context, key string, lastSeq int64) (transport.FrameReader, error) {
	ctx = context.WithoutCancel(ctx)
	if rs, ok := a.stream.(transport.ResumableStream); ok && lastSeq > 0 {
		return rs.OpenAfter(ctx, key, lastSeq)
	}
	return a.stream.Open(ctx, key)
}

func (a *Adapter) unsubscriber(f *feed, id int64) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(f.listeners, id)
			var toClose transport.FrameReader
			if len(f.listeners) == 0 {
				toClose = f.reader
				f.reader = nil
				f.conn++
				if f.state == StateConnected || f.state == StateConnecting {
					f.state = StateClosed
				}
			}
			a.mu.Unlock()

			if toClose != nil {
				if err := toClose.Close(); err != nil {
					a.logger.Debug("Failed to close progress stream", "key", f.key, "error", err)
				}
			}
		})
	}
}

func (a *Adapter) readLoop(f *feed, reader transport.FrameReader, conn int) {
	for {
		frame, err := reader.Recv()
		if err != nil {
			a.mu.Lock()
			current := f.conn == conn && f.reader == reader
			if current {
				f.reader = nil
				f.state = StateDisconnected
				f.lastErr = err
				// Listeners must resubscribe explicitly.
				f.listeners = make(map[int64]Listener)
			}
			a.mu.Unlock()

			if current {
				if transport.IsEndOfStream(err) {
					a.logger.Info("Progress stream ended", "key", f.key)
				} else {
					a.logger.Warn("Progress stream disconnected", "key", f.key, "error", err)
				}
				_ = reader.Close()
			}
			return
		}
		a.handle(f, conn, frame)
	}
}

func (a *Adapter) handle(f *feed, conn int, frame transport.Frame) {
	if domain.IsControlFrame(frame.Type) {
		return
	}
	phase, ok := domain.ParsePhase(frame.Type)
	if !ok {
		a.logger.Debug("Ignoring progress frame with unknown type", "key", f.key, "type", frame.Type)
		return
	}

	a.mu.Lock()
	if f.conn != conn {
		a.mu.Unlock()
		return
	}
	seq := frame.Seq
	if seq == 0 {
		seq = f.highWater + 1
	}
	if seq <= f.highWater {
		a.mu.Unlock()
		a.logger.Debug("Dropping replayed progress frame", "key", f.key, "seq", seq, "high_water", f.highWater)
		return
	}
	f.highWater = seq

	ev := domain.ProgressEvent{
		Sequence:   seq,
		Phase:      phase,
		SourceID:   frame.SourceID,
		Message:    frame.Message,
		Data:       frame.Data,
		ReceivedAt: a.clk.Now(),
	}
	switch phase {
	case domain.PhaseStart:
		f.active[ev.SourceID] = struct{}{}
	case domain.PhaseComplete, domain.PhaseError:
		delete(f.active, ev.SourceID)
	}
	f.recent.push(ev)

	ids := make([]int64, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		a.mu.Lock()
		l, ok := f.listeners[id]
		a.mu.Unlock()
		if ok {
			l(ev)
		}
	}
}

// State returns the connection state for key.
func (a *Adapter) State(key string) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[key]; ok {
		return f.state
	}
	return StateIdle
}

// Err returns the error that disconnected key, if any.
func (a *Adapter) Err(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[key]; ok {
		return f.lastErr
	}
	return nil
}

// ActiveSources returns the sources that have started and not yet
// completed or errored, sorted.
func (a *Adapter) ActiveSources(key string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.feeds[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(f.active))
	for src := range f.active {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Recent returns the most recent events for key, oldest first.
func (a *Adapter) Recent(key string) []domain.ProgressEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[key]; ok {
		return f.recent.items()
	}
	return nil
}

// HighWater returns the highest sequence delivered for key.
func (a *Adapter) HighWater(key string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[key]; ok {
		return f.highWater
	}
	return 0
}

// Close closes every open stream and drops all listeners.
func (a *Adapter) Close() {
	a.mu.Lock()
	var readers []transport.FrameReader
	for _, f := range a.feeds {
		if f.reader != nil {
			readers = append(readers, f.reader)
			f.reader = nil
		}
		f.conn++
		f.state = StateClosed
		f.listeners = make(map[int64]Listener)
	}
	a.mu.Unlock()

	for _, r := range readers {
		_ = r.Close()
	}
}
