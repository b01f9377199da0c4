// Package fanout distributes state snapshots to any number of observers
// without letting a slow observer block the publisher.
package fanout

import (
	"log/slog"
	"sync"
)

const defaultBuffer = 16

// Hub fans published values out to subscribers. Each subscriber owns a
// bounded channel; when it is full the oldest queued value is dropped so the
// newest state always gets through.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[int64]chan T
	nextID int64
	buffer int
	closed bool
	logger *slog.Logger
}

// NewHub creates a hub whose subscriber channels hold up to buffer values.
func NewHub[T any](buffer int, logger *slog.Logger) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub[T]{
		subs:   make(map[int64]chan T),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new observer. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan T, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Publish delivers v to every subscriber without blocking.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	for id, ch := range h.subs {
		select {
		case ch <- v:
			continue
		default:
		}

		// Channel full: drop the oldest value to make room.
		select {
		case <-ch:
			h.logger.Debug("fanout subscriber lagging, dropped oldest value", "subscriber", id)
		default:
		}
		select {
		case ch <- v:
		default:
			h.logger.Warn("fanout failed to queue value after backpressure", "subscriber", id)
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
