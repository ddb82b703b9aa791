package queue

// ring is a fixed-size circular buffer. It is not synchronized.
type ring[T any] struct {
	buf  []T
	head int
	size int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) index(i int) int { return (r.head + i) % len(r.buf) }

func (r *ring[T]) pushBack(item T) {
	r.buf[r.index(r.size)] = item
	r.size++
}

func (r *ring[T]) popFront() T {
	item := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return item
}

func (r *ring[T]) popBack() T {
	i := r.index(r.size - 1)
	item := r.buf[i]
	var zero T
	r.buf[i] = zero
	r.size--
	return item
}

func (r *ring[T]) front() T { return r.buf[r.head] }

func (r *ring[T]) back() T { return r.buf[r.index(r.size-1)] }

func (r *ring[T]) slice() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.buf[r.index(i)]
	}
	return out
}
