package conductor

import (
	"sync/atomic"
)

// MetricsPolicy defines hooks used by the conductor to report
// scheduling and completion activity.
//
// Implementations must be safe for concurrent use.
// All methods are expected to be lightweight and non-blocking.
type MetricsPolicy interface {
	// IncSubmitted counts a task accepted into the inbound queue.
	IncSubmitted()

	// IncAssigned counts a task handed to a worker. worker differs from
	// task on crossover or when only one kind is connected.
	IncAssigned(task, worker Kind, b Branch)

	// IncCompleted counts a completion delivered to its client.
	IncCompleted()

	// IncDropped counts a completion that could not be delivered.
	IncDropped()
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	dropped   atomic.Uint64

	_ [40]byte // padding to avoid false sharing

	branches [BranchWait + 1]atomic.Uint64
}

// Submitted returns the number of tasks accepted so far.
func (m *AtomicMetrics) Submitted() uint64 { return m.submitted.Load() }

// Completed returns the number of completions delivered.
func (m *AtomicMetrics) Completed() uint64 { return m.completed.Load() }

// Dropped returns the number of completions that had no client to go to.
func (m *AtomicMetrics) Dropped() uint64 { return m.dropped.Load() }

// Assigned returns how many assignments were decided by branch b.
func (m *AtomicMetrics) Assigned(b Branch) uint64 {
	if int(b) >= len(m.branches) {
		return 0
	}
	return m.branches[b].Load()
}

func (m *AtomicMetrics) IncSubmitted() { m.submitted.Add(1) }

func (m *AtomicMetrics) IncAssigned(_, _ Kind, b Branch) {
	if int(b) < len(m.branches) {
		m.branches[b].Add(1)
	}
}

func (m *AtomicMetrics) IncCompleted() { m.completed.Add(1) }

func (m *AtomicMetrics) IncDropped() { m.dropped.Add(1) }

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
type NoopMetrics struct{}

func (NoopMetrics) IncSubmitted() {}
func (NoopMetrics) IncAssigned(_, _ Kind, _ Branch) {}
func (NoopMetrics) IncCompleted() {}
func (NoopMetrics) IncDropped() {}
