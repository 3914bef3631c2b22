package conductor

import (
	"context"
	"errors"
	"fmt"

	lg "github.com/Andrej220/go-utils/zlog"
)

// ErrTaskMismatch is returned when a worker reports a task other than
// the one it was assigned.
var ErrTaskMismatch = errors.New("conductor: completed task does not match assignment")

// Completion is an entry of the outbound queue: a finished task and the
// slot that processed it.
type Completion struct {
	Slot *WorkerSlot
	Task Task
}

// CompletionRouter drains the outbound queue. For every completion it
// returns the worker slot to its pool and forwards the task to the
// client that submitted it.
type CompletionRouter struct {
	outbound *fifoQueue[Completion]
	clients  *ClientRegistry
	metrics  MetricsPolicy

	onInternal func(context.Context, error)
	onDelivery func(context.Context, error)
}

func newCompletionRouter(outbound *fifoQueue[Completion], clients *ClientRegistry, metrics MetricsPolicy,
	onInternal, onDelivery func(context.Context, error)) *CompletionRouter {
	return &CompletionRouter{
		outbound:   outbound,
		clients:    clients,
		metrics:    metrics,
		onInternal: onInternal,
		onDelivery: onDelivery,
	}
}

// Submit enqueues a task finished by slot. It blocks only while the
// outbound queue is full.
func (r *CompletionRouter) Submit(ctx context.Context, slot *WorkerSlot, t Task) error {
	if slot == nil {
		return fmt.Errorf("%w: completion of %s without a slot", ErrNotAssigned, t)
	}
	cur, ok := slot.Current()
	if !ok {
		return fmt.Errorf("%w: %s reported %s", ErrNotAssigned, slot, t)
	}
	if cur.Key() != t.Key() {
		return fmt.Errorf("%w: %s holds %s, reported %s", ErrTaskMismatch, slot, cur, t)
	}
	if !slot.markReported() {
		return fmt.Errorf("%w: %s reported %s twice", ErrNotAssigned, slot, t)
	}
	if err := r.outbound.Enqueue(ctx, Completion{Slot: slot, Task: t}); err != nil {
		slot.reported.Store(false)
		return err
	}
	return nil
}

// Pending returns the number of completions waiting to be routed.
func (r *CompletionRouter) Pending() int { return r.outbound.Len() }

// Run routes completions until ctx is done or the queue is closed.
// A release that breaks pool accounting stops the loop.
func (r *CompletionRouter) Run(ctx context.Context) error {
	for {
		c, err := r.outbound.Dequeue(ctx)
		if err != nil {
			return err
		}
		if err := r.route(ctx, c); err != nil {
			return err
		}
	}
}

func (r *CompletionRouter) route(ctx context.Context, c Completion) error {
	logger := lg.FromContext(ctx).With(lg.String("task", c.Task.String()), lg.String("worker", c.Slot.String()))

	// Release first: worker availability must survive any client failure.
	if err := c.Slot.release(); err != nil {
		if errors.Is(err, ErrInvariant) {
			return err
		}
		r.onInternal(ctx, fmt.Errorf("complete %s: %w", c.Task, err))
		return nil
	}

	sink, ok := r.clients.Lookup(c.Task.ClientID)
	if !ok {
		r.metrics.IncDropped()
		r.onDelivery(ctx, fmt.Errorf("%w: %d (%s)", ErrUnknownClient, c.Task.ClientID, c.Task))
		return nil
	}
	if err := sink.Deliver(ctx, c.Task); err != nil {
		r.metrics.IncDropped()
		r.onDelivery(ctx, fmt.Errorf("deliver %s: %w", c.Task, err))
		return nil
	}
	r.metrics.IncCompleted()
	logger.Info("task delivered")
	return nil
}
