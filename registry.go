package conductor

import (
	"context"
	"fmt"
	"sync"
)

// ClientSink delivers completed tasks back to one client.
//
// Deliver must return promptly; a sink that cannot accept the task
// should fail rather than stall the completion loop.
type ClientSink interface {
	Deliver(ctx context.Context, t Task) error
}

// SinkFunc adapts a plain function to ClientSink.
type SinkFunc func(ctx context.Context, t Task) error

func (f SinkFunc) Deliver(ctx context.Context, t Task) error { return f(ctx, t) }

// ClientRegistry maps client ids to their delivery sinks.
// All methods are safe for concurrent use.
type ClientRegistry struct {
	mu    sync.RWMutex
	sinks map[int]ClientSink
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{sinks: make(map[int]ClientSink)}
}

// Register binds id to sink. An id can be bound only once at a time.
func (r *ClientRegistry) Register(id int, sink ClientSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateClient, id)
	}
	r.sinks[id] = sink
	return nil
}

// Unregister removes id. It reports whether the id was present.
func (r *ClientRegistry) Unregister(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sinks[id]
	delete(r.sinks, id)
	return ok
}

// Lookup returns the sink bound to id.
func (r *ClientRegistry) Lookup(id int) (ClientSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[id]
	return s, ok
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
