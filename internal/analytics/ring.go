package analytics

// Ring is a fixed-capacity buffer that overwrites its oldest element when
// full. It is not safe for concurrent use; the Aggregator guards it.
type Ring[T any] struct {
	buf  []T
	size int
	head int // write position
	tail int // oldest element
	full bool
}

// NewRing returns a ring holding at most size elements.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = DefaultCapacity
	}
	return &Ring[T]{buf: make([]T, size), size: size}
}

// Push appends v, evicting the oldest element if the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return r.size - r.tail + r.head
	}
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return r.size }

// Slice returns a copy of the buffered elements, oldest first.
func (r *Ring[T]) Slice() []T {
	return r.Last(r.Len())
}

// Last returns a copy of the newest n elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	l := r.Len()
	n = max(0, min(n, l))
	out := make([]T, n)
	start := (r.tail + l - n) % r.size
	for i := range n {
		out[i] = r.buf[(start+i)%r.size]
	}
	return out
}

// Reset empties the ring.
func (r *Ring[T]) Reset() {
	clear(r.buf)
	r.head, r.tail, r.full = 0, 0, false
}
