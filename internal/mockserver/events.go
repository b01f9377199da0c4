package mockserver

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tripsync/internal/fanout"
)

// progressFrame is the JSON payload of one agent progress event.
type progressFrame struct {
	Seq       int64          `json:"seq,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
	AgentName string         `json:"agent_name,omitempty"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type loggedEvent struct {
	Seq   int64
	Frame progressFrame
	At    time.Time
}

// eventLog keeps a bounded replay queue and a live fan-out hub per stream
// key. Sequence numbers are per key and start at 1.
type eventLog struct {
	mu      sync.Mutex
	queues  map[string]*list.List
	seqs    map[string]int64
	hubs    map[string]*fanout.Hub[loggedEvent]
	maxSize int
	logger  *slog.Logger
}

func newEventLog(maxSize int, logger *slog.Logger) *eventLog {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &eventLog{
		queues:  make(map[string]*list.List),
		seqs:    make(map[string]int64),
		hubs:    make(map[string]*fanout.Hub[loggedEvent]),
		maxSize: maxSize,
		logger:  logger,
	}
}

func (l *eventLog) hubLocked(key string) *fanout.Hub[loggedEvent] {
	h, ok := l.hubs[key]
	if !ok {
		h = fanout.NewHub[loggedEvent](64, l.logger)
		l.hubs[key] = h
	}
	return h
}

// publish assigns the next sequence number for key, queues the event for
// replay and delivers it to live subscribers.
func (l *eventLog) publish(key string, f progressFrame) loggedEvent {
	l.mu.Lock()
	l.seqs[key]++
	f.Seq = l.seqs[key]
	ev := loggedEvent{Seq: f.Seq, Frame: f, At: time.Now()}

	q, ok := l.queues[key]
	if !ok {
		q = list.New()
		l.queues[key] = q
	}
	q.PushBack(ev)
	for q.Len() > l.maxSize {
		q.Remove(q.Front())
	}
	l.hubLocked(key).Publish(ev)
	l.mu.Unlock()
	return ev
}

// missed returns queued events for key with a sequence above after.
func (l *eventLog) missed(key string, after int64) []loggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.queues[key]
	if !ok {
		return nil
	}
	var out []loggedEvent
	for e := q.Front(); e != nil; e = e.Next() {
		ev := e.Value.(loggedEvent)
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) subscribe(key string) (<-chan loggedEvent, func()) {
	l.mu.Lock()
	hub := l.hubLocked(key)
	l.mu.Unlock()
	return hub.Subscribe()
}

// forget drops the replay queue and counter for key. Open subscriptions are
// closed.
func (l *eventLog) forget(key string) {
	l.mu.Lock()
	hub := l.hubs[key]
	delete(l.queues, key)
	delete(l.seqs, key)
	delete(l.hubs, key)
	l.mu.Unlock()
	if hub != nil {
		hub.Close()
	}
}

func (l *eventLog) close() {
	l.mu.Lock()
	hubs := l.hubs
	l.hubs = make(map[string]*fanout.Hub[loggedEvent])
	l.mu.Unlock()
	for _, h := range hubs {
		h.Close()
	}
}
