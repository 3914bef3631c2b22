package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/sourcegraph/conc/pool"
)

// Conductor owns the scheduling core: one WorkerPool per kind, the
// inbound and outbound queues, the Dispatcher, the CompletionRouter and
// the client registry.
//
// The connection layer talks to it only through the On* callbacks,
// Submit and Complete.
type Conductor struct {
	opts Options

	pools    [numKinds]*WorkerPool
	inbound  *fifoQueue[Task]
	outbound *fifoQueue[Completion]
	clients  *ClientRegistry

	dispatcher *Dispatcher
	router     *CompletionRouter

	// OnInternalError receives non-fatal loop errors (lost workers,
	// duplicate completions, dead slots at hand-off). Optional.
	OnInternalError ErrorHandler

	// OnDeliveryError receives completions that could not reach their
	// client. Optional.
	OnDeliveryError ErrorHandler

	closeOnce sync.Once
}

// Stats is a snapshot of the conductor state.
type Stats struct {
	Pools           [numKinds]PoolStats `json:"pools"`
	Inbound         int                 `json:"inbound"`
	Outbound        int                 `json:"outbound"`
	Clients         int                 `json:"clients"`
	CrossoverFactor int                 `json:"crossover_factor"`
}

// New creates a Conductor. Zero option values are replaced by defaults.
func New(opts Options) *Conductor {
	opts.FillDefaults()
	c := &Conductor{
		opts:     opts,
		inbound:  newFifoQueue[Task](opts.QueueCapacity),
		outbound: newFifoQueue[Completion](opts.QueueCapacity),
		clients:  NewClientRegistry(),
	}
	for _, k := range Kinds {
		c.pools[k] = NewWorkerPool(k, opts.PoolCapacity)
	}
	c.dispatcher = newDispatcher(c.inbound, c.pools, opts, c.reportInternalError)
	c.router = newCompletionRouter(c.outbound, c.clients, opts.Metrics, c.reportInternalError, c.reportDeliveryError)
	return c
}

// Dispatcher returns the scheduling loop.
func (c *Conductor) Dispatcher() *Dispatcher { return c.dispatcher }

// Router returns the completion loop.
func (c *Conductor) Router() *CompletionRouter { return c.router }

// Clients returns the registry of connected clients.
func (c *Conductor) Clients() *ClientRegistry { return c.clients }

// Pool returns the worker pool of kind k.
func (c *Conductor) Pool(k Kind) *WorkerPool { return c.pools[k] }

// Options returns the options the Conductor was built with, defaults filled.
func (c *Conductor) Options() Options { return c.opts }

// SetCrossoverFactor changes the crossover backlog multiplier at runtime.
func (c *Conductor) SetCrossoverFactor(n int) { c.dispatcher.SetCrossoverFactor(n) }

// Submit queues a task received from a client.
func (c *Conductor) Submit(ctx context.Context, t Task) error {
	return c.dispatcher.Submit(ctx, t)
}

// Complete records that slot finished t.
func (c *Conductor) Complete(ctx context.Context, slot *WorkerSlot, t Task) error {
	return c.router.Submit(ctx, slot, t)
}

// OnClientConnected registers the delivery sink of a newly connected client.
func (c *Conductor) OnClientConnected(ctx context.Context, id int, sink ClientSink) error {
	if err := c.clients.Register(id, sink); err != nil {
		return err
	}
	lg.FromContext(ctx).Info("client connected", lg.Int("client_id", id))
	return nil
}

// OnClientDisconnected drops the client's sink. Completions still in
// flight for it are reported as undeliverable.
func (c *Conductor) OnClientDisconnected(ctx context.Context, id int) {
	if c.clients.Unregister(id) {
		lg.FromContext(ctx).Info("client disconnected", lg.Int("client_id", id))
	}
}

// OnWorkerConnected creates a slot for a worker of kind and registers it.
func (c *Conductor) OnWorkerConnected(ctx context.Context, kind Kind) (*WorkerSlot, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
	s := NewWorkerSlot(kind)
	if err := c.pools[kind].Register(s); err != nil {
		return nil, err
	}
	lg.FromContext(ctx).Info("worker registered",
		lg.String("worker", s.String()),
		lg.Int("count", c.pools[kind].Count()),
	)
	return s, nil
}

// OnWorkerDisconnected takes the slot out of rotation for good. A task
// the worker was still processing is reported as lost; it is not
// rescheduled.
func (c *Conductor) OnWorkerDisconnected(ctx context.Context, s *WorkerSlot) {
	if !c.pools[s.Kind].Remove(s) {
		return
	}
	lg.FromContext(ctx).Warn("worker disconnected", lg.String("worker", s.String()))

	t, busy, stranded := s.strand()
	if !busy || s.reported.Load() {
		// Idle, or its completion is already queued and will release it.
		return
	}
	if err := s.release(); err != nil {
		// ErrNotAssigned: the router released it first.
		if !errors.Is(err, ErrNotAssigned) {
			c.reportInternalError(ctx, fmt.Errorf("release %s: %w", s, err))
		}
		return
	}
	if stranded {
		c.reportInternalError(ctx, fmt.Errorf("%w: %s undelivered on %s", ErrWorkerLost, t, s))
		return
	}
	c.reportInternalError(ctx, fmt.Errorf("%w: %s on %s", ErrWorkerLost, t, s))
}

// Stats returns a snapshot of pools and queues.
func (c *Conductor) Stats() Stats {
	st := Stats{
		Inbound:         c.inbound.Len(),
		Outbound:        c.outbound.Len(),
		Clients:         c.clients.Len(),
		CrossoverFactor: c.dispatcher.CrossoverFactor(),
	}
	for _, k := range Kinds {
		st.Pools[k] = c.pools[k].Stats()
	}
	return st
}

// Run runs the Dispatcher and the CompletionRouter until ctx is done,
// Close is called, or one of them fails. A failing loop cancels the
// other and its error is returned.
func (c *Conductor) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(c.dispatcher.Run)
	p.Go(c.router.Run)

	err := p.Wait()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQueueClosed):
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil
	default:
		lg.FromContext(ctx).Error("conductor stopped", lg.Any("error", err))
		return err
	}
}

// Close stops accepting tasks and completions and makes Run return.
func (c *Conductor) Close() {
	c.closeOnce.Do(func() {
		c.inbound.Close()
		c.outbound.Close()
	})
}
