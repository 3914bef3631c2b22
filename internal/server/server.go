// Package server is the TCP front end of the conductor. It classifies
// each connection by its hello frame and bridges clients and workers
// to the scheduling core.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/wire"
)

const (
	// DefaultSinkBuffer is the per-connection outbound buffer.
	DefaultSinkBuffer = 100

	helloTimeout = 5 * time.Second
)

// ErrBadHello is returned when the first frame does not identify a
// client or a worker.
var ErrBadHello = errors.New("server: bad hello")

// Core is what the server needs from the conductor.
type Core interface {
	Submit(ctx context.Context, t conductor.Task) error
	Complete(ctx context.Context, slot *conductor.WorkerSlot, t conductor.Task) error
	OnClientConnected(ctx context.Context, id int, sink conductor.ClientSink) error
	OnClientDisconnected(ctx context.Context, id int)
	OnWorkerConnected(ctx context.Context, kind conductor.Kind) (*conductor.WorkerSlot, error)
	OnWorkerDisconnected(ctx context.Context, s *conductor.WorkerSlot)
}

// Options configure a Server.
type Options struct {
	Addr       string
	SinkBuffer int
}

func (o *Options) FillDefaults() {
	if o.SinkBuffer <= 0 {
		o.SinkBuffer = DefaultSinkBuffer
	}
}

// Server accepts client and worker connections.
type Server struct {
	core Core
	opts Options

	ln net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	wg        conc.WaitGroup
	closeOnce sync.Once
	closeErr  error
	closing   chan struct{}
}

// New creates a server for core. Call Listen, then Serve.
func New(core Core, opts Options) *Server {
	opts.FillDefaults()
	return &Server{
		core:    core,
		opts:    opts,
		conns:   make(map[net.Conn]struct{}),
		closing: make(chan struct{}),
	}
}

// Listen binds the TCP listener.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address; valid after Listen.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	logger := lg.FromContext(ctx)
	logger.Info("conductor listening", lg.String("addr", s.ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn("accept failed", lg.Any("error", err))
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.wg.Go(func() {
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		})
	}
}

// Close stops accepting, drops every open connection and waits for the
// connection goroutines to finish.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)

		var err error
		if s.ln != nil {
			err = multierr.Append(err, ignoreClosed(s.ln.Close()))
		}
		s.mu.Lock()
		for c := range s.conns {
			err = multierr.Append(err, ignoreClosed(c.Close()))
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.closeErr = err
	})
	return s.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closing:
		return false
	default:
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	logger := lg.FromContext(ctx).With(lg.String("remote", conn.RemoteAddr().String()))

	hello, err := readHello(conn)
	if err != nil {
		logger.Warn("handshake failed", lg.Any("error", err))
		return
	}

	switch hello.Role {
	case wire.RoleClient:
		err = s.serveClient(ctx, conn, hello.ClientID)
	case wire.RoleWorker:
		err = s.serveWorker(ctx, conn, hello)
	}
	if err != nil && !isDisconnect(err) {
		logger.Warn("connection ended", lg.String("role", hello.Role), lg.Any("error", err))
	}
}

func readHello(conn net.Conn) (wire.Hello, error) {
	var h wire.Hello
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return h, err
	}
	if err := wire.Decode(msg, wire.TypeHello, &h); err != nil {
		return h, fmt.Errorf("%w: %w", ErrBadHello, err)
	}
	switch h.Role {
	case wire.RoleClient:
		if h.ClientID < 0 {
			return h, fmt.Errorf("%w: negative client id %d", ErrBadHello, h.ClientID)
		}
	case wire.RoleWorker:
		if !h.Kind.Valid() {
			return h, fmt.Errorf("%w: kind %s", ErrBadHello, h.Kind)
		}
	default:
		return h, fmt.Errorf("%w: role %q", ErrBadHello, h.Role)
	}
	return h, nil
}

// serveClient forwards the client's tasks to the conductor and its
// completions back, until the client hangs up.
func (s *Server) serveClient(ctx context.Context, conn net.Conn, id int) error {
	logger := lg.FromContext(ctx).With(lg.Int("client_id", id))

	sink := newConnSink(s.opts.SinkBuffer)
	if err := s.core.OnClientConnected(ctx, id, sink); err != nil {
		return err
	}
	defer s.core.OnClientDisconnected(ctx, id)

	var wg conc.WaitGroup
	defer wg.Wait()
	defer sink.close()
	defer conn.Close()

	wg.Go(func() {
		for t := range sink.C() {
			if err := wire.Send(conn, wire.TypeDone, t); err != nil {
				logger.Warn("completion not sent", lg.String("task", t.String()), lg.Any("error", err))
				_ = conn.Close()
				return
			}
		}
	})

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return err
		}
		switch msg.Type {
		case wire.TypeTask:
			var t conductor.Task
			if err := wire.Decode(msg, wire.TypeTask, &t); err != nil {
				logger.Warn("bad task frame", lg.Any("error", err))
				continue
			}
			// Tasks always belong to the connection that sent them.
			t.ClientID = id
			if err := s.core.Submit(ctx, t); err != nil {
				return err
			}
		case wire.TypeBye:
			logger.Info("client finished submitting")
		default:
			logger.Warn("unexpected frame", lg.String("type", msg.Type))
		}
	}
}

// serveWorker registers a slot, writes every task assigned to it and
// reports completions, until the worker hangs up.
func (s *Server) serveWorker(ctx context.Context, conn net.Conn, h wire.Hello) error {
	slot, err := s.core.OnWorkerConnected(ctx, h.Kind)
	if err != nil {
		return err
	}
	logger := lg.FromContext(ctx).With(lg.String("worker", slot.String()), lg.String("worker_id", h.WorkerID))

	var wg conc.WaitGroup
	defer wg.Wait()

	wg.Go(func() {
		for {
			select {
			case t := <-slot.Outbound():
				if err := wire.Send(conn, wire.TypeTask, t); err != nil {
					logger.Warn("task not sent", lg.String("task", t.String()), lg.Any("error", err))
					_ = conn.Close()
					return
				}
			case <-slot.Done():
				return
			}
		}
	})

	for {
		t, err := wire.ReadTask(conn, wire.TypeDone)
		if err != nil {
			if errors.Is(err, wire.ErrUnexpectedType) {
				logger.Warn("unexpected frame", lg.Any("error", err))
				continue
			}
			// Marking the slot dead also stops the writer.
			s.core.OnWorkerDisconnected(ctx, slot)
			return err
		}
		if err := s.core.Complete(ctx, slot, t); err != nil {
			logger.Warn("completion rejected", lg.String("task", t.String()), lg.Any("error", err))
		}
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
