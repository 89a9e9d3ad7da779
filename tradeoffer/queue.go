package tradeoffer

import "sync"

// queue is an unbounded FIFO safe for concurrent use. A single consumer
// waits on Wait() and drains with Pop.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		items:  make([]T, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Push appends v. It returns false once the queue is closed.
func (q *queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, v)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) Wait() <-chan struct{} {
	return q.signal
}

func (q *queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further pushes. Items already queued can still be popped.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// consume calls fn for every item until the queue is closed and empty.
func (q *queue[T]) consume(fn func(T)) {
	for {
		if v, ok := q.Pop(); ok {
			fn(v)
			continue
		}
		if q.Closed() {
			// items pushed just before Close
			for v, ok := q.Pop(); ok; v, ok = q.Pop() {
				fn(v)
			}
			return
		}
		<-q.Wait()
	}
}
