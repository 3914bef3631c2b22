package conductor

import (
	"context"
	"errors"

	lg "github.com/Andrej220/go-utils/zlog"
)

var (
	// ErrInvariant marks a state the scheduler can never legitimately
	// reach. It aborts the loop that observes it.
	ErrInvariant = errors.New("conductor: invariant violation")

	// ErrUnknownClient is reported when a completed task belongs to a
	// client that has no registered sink.
	ErrUnknownClient = errors.New("conductor: no sink for client")

	// ErrDuplicateClient is returned when a client id is registered twice.
	ErrDuplicateClient = errors.New("conductor: client already registered")

	// ErrWorkerLost is reported when a worker disconnects while holding a task.
	ErrWorkerLost = errors.New("conductor: worker disconnected with task in flight")
)

// ErrorHandler receives non-fatal errors from the conductor loops.
// It must be safe for concurrent use and must not block.
type ErrorHandler func(error)

// reportInternalError reports a failure that does not stop the loop:
// a lost worker, a double completion, a dead slot at hand-off.
// Without a handler the error is only logged.
func (c *Conductor) reportInternalError(ctx context.Context, err error) {
	lg.FromContext(ctx).Warn("conductor internal error", lg.Any("error", err))
	if c.OnInternalError != nil {
		c.OnInternalError(err)
	}
}

// reportDeliveryError reports a completed task that could not be
// forwarded to its client. The worker slot has already been released.
func (c *Conductor) reportDeliveryError(ctx context.Context, err error) {
	lg.FromContext(ctx).Error("completion dropped", lg.Any("error", err))
	if c.OnDeliveryError != nil {
		c.OnDeliveryError(err)
	}
}
