package progress

// ring is a fixed-size circular buffer that overwrites the oldest entry
// when full. It is not safe for concurrent use; the adapter guards it.
type ring[T any] struct {
	buf  []T
	size int
	head int // write position
	tail int // read position
	full bool
}

func newRing[T any](size int) *ring[T] {
	if size <= 0 {
		size = defaultHistory
	}
	return &ring[T]{buf: make([]T, size), size: size}
}

// push appends v, dropping the oldest entry when full.
func (r *ring[T]) push(v T) {
	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// items returns the contents oldest first.
func (r *ring[T]) items() []T {
	n := r.len()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(r.tail+i)%r.size])
	}
	return out
}

func (r *ring[T]) len() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return (r.size - r.tail) + r.head
	}
}

func (r *ring[T]) reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.tail, r.full = 0, 0, false
}
