package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Dispatcher is the scheduling loop. It takes tasks from the inbound
// queue one at a time, picks a worker slot for each and hands the task
// over before pulling the next one.
//
// Decisions are sequential with respect to each other but not with
// respect to registrations and releases happening on other goroutines;
// every decision works from a fresh snapshot and re-decides when the
// snapshot turned stale before it could be acted on.
type Dispatcher struct {
	inbound *fifoQueue[Task]
	pools   [numKinds]*WorkerPool
	factor  atomic.Int64
	metrics MetricsPolicy

	// onError receives per-task failures that do not stop the loop.
	onError func(context.Context, error)

	// acquired, if set, runs between acquiring a slot and handing it the
	// task. Tests use it to disconnect the worker inside that gap.
	acquired func(*WorkerSlot)
}

func newDispatcher(inbound *fifoQueue[Task], pools [numKinds]*WorkerPool, opts Options, onError func(context.Context, error)) *Dispatcher {
	d := &Dispatcher{
		inbound: inbound,
		pools:   pools,
		metrics: opts.Metrics,
		onError: onError,
	}
	d.factor.Store(int64(opts.CrossoverFactor))
	return d
}

// Submit enqueues t for scheduling, blocking while the inbound queue is full.
func (d *Dispatcher) Submit(ctx context.Context, t Task) error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, t)
	}
	if err := d.inbound.Enqueue(ctx, t); err != nil {
		return err
	}
	d.metrics.IncSubmitted()
	return nil
}

// TrySubmit enqueues t without blocking; it fails with ErrQueueFull
// when the inbound queue is at capacity.
func (d *Dispatcher) TrySubmit(t Task) error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, t)
	}
	if err := d.inbound.TryEnqueue(t); err != nil {
		return err
	}
	d.metrics.IncSubmitted()
	return nil
}

// SetCrossoverFactor changes the backlog multiplier used by the
// crossover heuristic. Non-positive values restore the default.
func (d *Dispatcher) SetCrossoverFactor(n int) {
	if n <= 0 {
		n = DefaultCrossoverFactor
	}
	d.factor.Store(int64(n))
}

// CrossoverFactor returns the multiplier currently in use.
func (d *Dispatcher) CrossoverFactor() int { return int(d.factor.Load()) }

// Pending returns the number of tasks waiting in the inbound queue.
func (d *Dispatcher) Pending() int { return d.inbound.Len() }

// Run processes inbound tasks until ctx is done, the queue is closed,
// or an invariant violation is detected.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		t, err := d.inbound.Dequeue(ctx)
		if err != nil {
			return err
		}
		if err := d.dispatch(ctx, t); err != nil {
			return err
		}
	}
}

// dispatch assigns t to a slot and hands it over. A slot whose worker
// vanished between selection and hand-off is dropped and t is routed again.
func (d *Dispatcher) dispatch(ctx context.Context, t Task) error {
	for {
		slot, b, err := d.assignWorker(ctx, t)
		if err != nil {
			return err
		}
		if d.acquired != nil {
			d.acquired(slot)
		}

		err = slot.assign(ctx, t)
		switch {
		case err == nil:
			d.metrics.IncAssigned(t.Kind, slot.Kind, b)
			lg.FromContext(ctx).Info("task assigned",
				lg.String("task", t.String()),
				lg.String("worker", slot.String()),
				lg.String("branch", b.String()),
			)
			return nil
		case errors.Is(err, ErrSlotClosed):
			d.onError(ctx, fmt.Errorf("dispatch %s: %w", t, err))
		case errors.Is(err, ErrAlreadyAssigned):
			// The pool handed out a slot that is still busy.
			return fmt.Errorf("%w: %w", ErrInvariant, err)
		default:
			return err
		}
	}
}

// assignWorker selects and acquires the slot that will run t.
func (d *Dispatcher) assignWorker(ctx context.Context, t Task) (*WorkerSlot, Branch, error) {
	matching, other := d.pools[t.Kind], d.pools[t.Kind.Other()]
	for {
		if !matching.HasAny() && !other.HasAny() {
			// Nothing to route to yet: wait for the first worker of any kind.
			if err := d.awaitFirstWorker(ctx); err != nil {
				return nil, 0, err
			}
			continue
		}

		in, err := d.snapshot(t, matching, other)
		if err != nil {
			return nil, 0, err
		}

		b := route(in)
		switch b {
		case BranchOtherOnly:
			s, err := other.Acquire(ctx)
			return s, b, err
		case BranchMatchingOnly:
			s, err := matching.Acquire(ctx)
			return s, b, err
		case BranchSameKind:
			if s, ok := matching.TryAcquire(); ok {
				return s, b, nil
			}
		case BranchCrossover:
			if s, ok := other.TryAcquire(); ok {
				lg.FromContext(ctx).Info("crossover",
					lg.String("task", t.String()),
					lg.Int("queued", in.queueLen),
					lg.Int("window", in.factor*in.matchingCount),
				)
				return s, b, nil
			}
		case BranchWait:
			lg.FromContext(ctx).Info("waiting for worker", lg.String("kind", t.Kind.String()))
			s, err := matching.Acquire(ctx)
			return s, b, err
		}
		// The idle slot seen in the snapshot was gone (worker
		// disconnected); decide again from fresh state.
	}
}

// snapshot captures the inputs of one routing decision.
func (d *Dispatcher) snapshot(t Task, matching, other *WorkerPool) (routeInput, error) {
	in := routeInput{
		kind:         t.Kind,
		matchingAny:  matching.HasAny(),
		otherAny:     other.HasAny(),
		matchingFree: matching.Available() > 0,
		otherFree:    other.Available() > 0,
		factor:       d.CrossoverFactor(),
	}
	in.matchingCount = matching.Count()
	if in.matchingAny && in.matchingCount == 0 {
		return in, fmt.Errorf("%w: pool %s has registrations but count 0", ErrInvariant, t.Kind)
	}
	// Only the crossover branch looks at the queue.
	if in.matchingAny && in.otherAny && !in.matchingFree && in.otherFree {
		in.queueLen = d.inbound.Len()
		in.next = d.inbound.Peek(in.factor * in.matchingCount)
	}
	return in, nil
}

func (d *Dispatcher) awaitFirstWorker(ctx context.Context) error {
	lg.FromContext(ctx).Info("no workers registered yet; waiting")
	select {
	case <-d.pools[KindA].Ready():
	case <-d.pools[KindB].Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
