package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrSlotClosed is returned when handing a task to a slot whose
	// worker has disconnected.
	ErrSlotClosed = errors.New("conductor: worker slot closed")

	// ErrNotAssigned is returned when a slot is released while it holds
	// no assignment, e.g. a worker reporting a task it never received.
	ErrNotAssigned = errors.New("conductor: worker slot not assigned")

	// ErrAlreadyAssigned signals that the scheduler handed a second task
	// to a slot that is still occupied.
	ErrAlreadyAssigned = errors.New("conductor: worker slot already assigned")
)

// WorkerSlot is the conductor-side handle of one connected worker.
//
// A slot is owned either by its WorkerPool (idle) or by the Dispatcher
// and the worker (assigned), never both. The transition back to the pool
// happens exactly once per assignment through release.
type WorkerSlot struct {
	ID   uuid.UUID
	Kind Kind

	outbound chan Task

	// onComplete returns the slot to its pool. Installed by Register.
	onComplete func(*WorkerSlot) error

	assigned atomic.Bool
	reported atomic.Bool // completion queued, release pending

	mu      sync.Mutex
	current Task

	closeOnce sync.Once
	done      chan struct{}
}

// NewWorkerSlot creates an idle slot for a worker of the given kind.
func NewWorkerSlot(kind Kind) *WorkerSlot {
	return &WorkerSlot{
		ID:       uuid.New(),
		Kind:     kind,
		outbound: make(chan Task, 1),
		done:     make(chan struct{}),
	}
}

// Outbound is read by the connection writer; every value is a task the
// worker must process.
func (s *WorkerSlot) Outbound() <-chan Task { return s.outbound }

// Done is closed when the worker disconnects.
func (s *WorkerSlot) Done() <-chan struct{} { return s.done }

// Alive reports whether the worker is still connected.
func (s *WorkerSlot) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Assigned reports whether the slot currently holds a task.
func (s *WorkerSlot) Assigned() bool { return s.assigned.Load() }

// Current returns the in-flight task, if any.
func (s *WorkerSlot) Current() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.assigned.Load()
}

// assign marks the slot occupied and hands t to the worker.
//
// If the hand-off fails the assignment is undone and the slot goes back
// through onComplete (a dead slot is discarded by its pool). assign and
// the disconnect path serialize on mu, so a task is either with a live
// worker or returned to the caller with ErrSlotClosed.
func (s *WorkerSlot) assign(ctx context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.assigned.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: slot %s", ErrAlreadyAssigned, s.ID)
	}
	s.current = t

	// outbound is buffered, so the send below is always ready and
	// would race a closed done.
	if !s.Alive() {
		_ = s.release()
		return fmt.Errorf("%w: slot %s", ErrSlotClosed, s.ID)
	}
	select {
	case s.outbound <- t:
	case <-s.done:
		_ = s.release()
		return fmt.Errorf("%w: slot %s", ErrSlotClosed, s.ID)
	case <-ctx.Done():
		_ = s.release()
		return ctx.Err()
	}

	if !s.Alive() {
		// The worker left during the send. Its writer may be gone too.
		select {
		case <-s.outbound:
			_ = s.release()
			return fmt.Errorf("%w: slot %s", ErrSlotClosed, s.ID)
		default:
			// Already written to the worker; the disconnect path reports it.
		}
	}
	return nil
}

// strand takes back a task still sitting in outbound after the worker
// disconnected and returns the in-flight state.
func (s *WorkerSlot) strand() (t Task, busy, stranded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.outbound:
		stranded = true
	default:
	}
	return s.current, s.assigned.Load(), stranded
}

// release clears the assignment and hands the slot back to its pool.
func (s *WorkerSlot) release() error {
	if !s.assigned.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: slot %s", ErrNotAssigned, s.ID)
	}
	s.reported.Store(false)
	if s.onComplete == nil {
		return nil
	}
	return s.onComplete(s)
}

// markReported records that the completion of the current task has
// been queued. It fails on a second report for the same assignment.
func (s *WorkerSlot) markReported() bool { return s.reported.CompareAndSwap(false, true) }

// close marks the worker as gone. It is safe to call more than once.
func (s *WorkerSlot) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		close(s.done)
		closed = true
	})
	return closed
}

func (s *WorkerSlot) String() string {
	return fmt.Sprintf("worker[%s %s]", s.Kind, s.ID.String()[:8])
}
