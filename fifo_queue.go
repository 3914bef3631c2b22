// fifo_queue.go
package conductor

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueCapacity is the capacity of the inbound and outbound queues.
const DefaultQueueCapacity = 100

var (
	// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
	ErrQueueFull = errors.New("queue: queue is full")

	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("queue: queue is closed")
)

// fifoQueue is a bounded first-in-first-out queue shared between
// producers (connection goroutines) and a single consumer loop.
//
// Items live in a circular buffer guarded by mu. Two token channels
// mirror the buffer state so that producers and the consumer can block
// with context cancellation:
//
//   - free holds one token per empty cell
//   - filled holds one token per stored item
//
// A filled token is only published after the item is in the buffer, so
// a consumer that obtained a token always finds an item to pop.
type fifoQueue[T any] struct {
	mu         sync.Mutex
	buf        []T // circular buffer
	head, tail int // read/write indices
	size       int // number of items currently buffered

	free   chan struct{}
	filled chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// newFifoQueue creates a queue holding at most capacity items.
func newFifoQueue[T any](capacity int) *fifoQueue[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &fifoQueue[T]{
		buf:    make([]T, capacity),
		free:   make(chan struct{}, capacity),
		filled: make(chan struct{}, capacity),
		closed: make(chan struct{}),
	}
	for range capacity {
		q.free <- struct{}{}
	}
	return q
}

// Cap returns the queue capacity.
func (q *fifoQueue[T]) Cap() int { return len(q.buf) }

// Len returns the number of items currently waiting in the queue.
func (q *fifoQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Enqueue appends v, blocking while the queue is full.
func (q *fifoQueue[T]) Enqueue(ctx context.Context, v T) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.free:
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	q.push(v)
	return nil
}

// TryEnqueue appends v without blocking.
func (q *fifoQueue[T]) TryEnqueue(v T) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case <-q.free:
	default:
		return ErrQueueFull
	}
	q.push(v)
	return nil
}

func (q *fifoQueue[T]) push(v T) {
	q.mu.Lock()
	q.buf[q.tail] = v
	q.tail++
	if q.tail == len(q.buf) {
		q.tail = 0
	}
	q.size++
	q.mu.Unlock()
	q.filled <- struct{}{}
}

// Dequeue removes and returns the oldest item, blocking while the
// queue is empty. Items still buffered after Close remain retrievable.
func (q *fifoQueue[T]) Dequeue(ctx context.Context) (T, error) {
	select {
	case <-q.filled:
		return q.pop(), nil
	default:
	}
	var zero T
	select {
	case <-q.filled:
		return q.pop(), nil
	case <-q.closed:
		return zero, ErrQueueClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (q *fifoQueue[T]) pop() T {
	var zero T
	q.mu.Lock()
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head++
	if q.head == len(q.buf) {
		q.head = 0
	}
	q.size--
	q.mu.Unlock()
	q.free <- struct{}{}
	return v
}

// Peek returns a snapshot copy of up to n items from the head of the
// queue in FIFO order. Fewer than n items are returned when the queue
// is shorter; it never reads past the current length.
func (q *fifoQueue[T]) Peek(n int) []T {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > q.size {
		n = q.size
	}
	out := make([]T, n)
	for i := range n {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

// Close rejects further enqueues and wakes blocked callers.
func (q *fifoQueue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
