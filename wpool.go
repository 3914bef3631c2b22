package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultPoolCapacity bounds how many workers of one kind may be registered.
const DefaultPoolCapacity = 25

var (
	// ErrPoolFull is returned by Register when the pool already holds
	// its maximum number of workers.
	ErrPoolFull = errors.New("conductor: pool is full")

	// ErrKindMismatch is returned when a slot is offered to the pool of
	// the other kind.
	ErrKindMismatch = errors.New("conductor: slot kind does not match pool")
)

// WorkerPool is the per-kind collection of idle worker slots plus the
// running total of every slot ever registered for that kind.
//
// Acquire is the only blocking operation. TryAcquire, Release, Count and
// HasAny never block and are safe to call from any goroutine.
type WorkerPool struct {
	kind      Kind
	available chan *WorkerSlot

	regMu sync.Mutex // serializes capacity checks in Register

	registered atomic.Int64 // never decreases
	held       atomic.Int64 // slots the pool still accounts for (idle or out)
	out        atomic.Int64 // slots currently acquired
	dead       atomic.Int64 // slots whose worker disconnected

	readyOnce sync.Once
	ready     chan struct{} // closed on first registration
}

// PoolStats is a point-in-time view of a WorkerPool.
type PoolStats struct {
	Kind       Kind `json:"kind"`
	Registered int  `json:"registered"`
	Available  int  `json:"available"`
	Assigned   int  `json:"assigned"`
	Dead       int  `json:"dead"`
}

// NewWorkerPool creates an empty pool for kind holding at most capacity slots.
func NewWorkerPool(kind Kind, capacity int) *WorkerPool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &WorkerPool{
		kind:      kind,
		available: make(chan *WorkerSlot, capacity),
		ready:     make(chan struct{}),
	}
}

// Kind returns the kind of worker this pool holds.
func (p *WorkerPool) Kind() Kind { return p.kind }

// Register adds a newly connected slot to the pool, making it
// immediately eligible for acquisition, and bumps the registered count.
func (p *WorkerPool) Register(s *WorkerSlot) error {
	if s.Kind != p.kind {
		return fmt.Errorf("%w: slot %s offered to pool %s", ErrKindMismatch, s.Kind, p.kind)
	}
	p.regMu.Lock()
	if int(p.held.Load()) >= cap(p.available) {
		p.regMu.Unlock()
		return fmt.Errorf("%w: kind %s capacity %d", ErrPoolFull, p.kind, cap(p.available))
	}
	p.held.Add(1)
	p.registered.Add(1)
	p.regMu.Unlock()

	s.onComplete = p.Release
	// held <= cap, so there is always room for the new slot.
	p.available <- s
	p.readyOnce.Do(func() { close(p.ready) })
	return nil
}

// Ready is closed once the first slot of this kind has registered.
func (p *WorkerPool) Ready() <-chan struct{} { return p.ready }

// TryAcquire returns an idle slot if one is available right now.
func (p *WorkerPool) TryAcquire() (*WorkerSlot, bool) {
	for {
		select {
		case s := <-p.available:
			if !s.Alive() {
				p.discard()
				continue
			}
			p.out.Add(1)
			return s, true
		default:
			return nil, false
		}
	}
}

// Acquire blocks until an idle slot is available or ctx is done.
// A slot is never handed to two callers without a Release in between.
func (p *WorkerPool) Acquire(ctx context.Context) (*WorkerSlot, error) {
	for {
		select {
		case s := <-p.available:
			if !s.Alive() {
				p.discard()
				continue
			}
			p.out.Add(1)
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a previously acquired slot to the pool. Slots whose
// worker has disconnected are dropped instead of re-entering rotation.
//
// Callers must release a slot at most once per acquisition.
func (p *WorkerPool) Release(s *WorkerSlot) error {
	if s.Kind != p.kind {
		return fmt.Errorf("%w: slot %s released to pool %s", ErrKindMismatch, s.Kind, p.kind)
	}
	p.out.Add(-1)
	if !s.Alive() {
		p.discard()
		return nil
	}
	select {
	case p.available <- s:
		return nil
	default:
		// More slots in circulation than were registered: double release.
		return fmt.Errorf("%w: pool %s overflow on release of %s", ErrInvariant, p.kind, s)
	}
}

// Remove marks the slot's worker as disconnected. The slot leaves
// rotation the next time it surfaces in Acquire, TryAcquire or Release.
// It reports whether this call performed the removal.
func (p *WorkerPool) Remove(s *WorkerSlot) bool {
	if !s.close() {
		return false
	}
	p.dead.Add(1)
	return true
}

func (p *WorkerPool) discard() { p.held.Add(-1) }

// Count returns the number of slots ever registered. It is a sizing
// input for the scheduler, not a liveness signal.
func (p *WorkerPool) Count() int { return int(p.registered.Load()) }

// HasAny reports whether a slot of this kind has ever registered.
func (p *WorkerPool) HasAny() bool { return p.registered.Load() > 0 }

// Live returns the number of registered slots whose worker is still connected.
func (p *WorkerPool) Live() int { return int(p.registered.Load() - p.dead.Load()) }

// Available returns the number of slots currently idle in the pool.
// The value may include disconnected slots not yet discarded.
func (p *WorkerPool) Available() int { return len(p.available) }

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Kind:       p.kind,
		Registered: p.Count(),
		Available:  p.Available(),
		Assigned:   int(p.out.Load()),
		Dead:       int(p.dead.Load()),
	}
}
