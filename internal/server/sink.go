package server

import (
	"context"
	"errors"
	"sync"

	"github.com/azargarov/conductor"
)

var (
	// ErrSinkFull is returned when a client reads its completions too
	// slowly and the per-connection buffer overflows.
	ErrSinkFull = errors.New("server: client buffer full")

	// ErrSinkClosed is returned after the client connection went away.
	ErrSinkClosed = errors.New("server: client connection closed")
)

// connSink buffers completions for one client connection. The
// connection writer drains C.
type connSink struct {
	mu     sync.Mutex
	ch     chan conductor.Task
	closed bool
}

func newConnSink(buffer int) *connSink {
	return &connSink{ch: make(chan conductor.Task, buffer)}
}

// Deliver never blocks: the completion loop is shared by every client.
func (s *connSink) Deliver(_ context.Context, t conductor.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- t:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *connSink) C() <-chan conductor.Task { return s.ch }

func (s *connSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
