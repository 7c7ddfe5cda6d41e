package progress

// RingBuffer keeps the most recent items up to a fixed capacity. When full,
// the oldest item is overwritten. Not safe for concurrent use.
type RingBuffer[T any] struct {
	data  []T
	head  int // next write position
	count int
}

// NewRingBuffer creates a buffer holding at most capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer[T]{data: make([]T, capacity)}
}

// Push appends item, evicting the oldest when full.
func (r *RingBuffer[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// Slice returns the items from oldest to newest as a copy.
func (r *RingBuffer[T]) Slice() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	tail := (r.head - r.count + len(r.data)) % len(r.data)
	n := copy(out, r.data[tail:min(tail+r.count, len(r.data))])
	copy(out[n:], r.data[:r.count-n])
	return out
}

// Len returns the number of items held.
func (r *RingBuffer[T]) Len() int { return r.count }

// Cap returns the capacity.
func (r *RingBuffer[T]) Cap() int { return len(r.data) }

// Clear drops every item.
func (r *RingBuffer[T]) Clear() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.count = 0
}
