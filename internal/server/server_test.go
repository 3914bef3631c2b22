package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/wire"
)

type harness struct {
	core *conductor.Conductor
	srv  *Server
	addr string

	mu       sync.Mutex
	internal []error
}

func (h *harness) hasInternal(target error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, err := range h.internal {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func start(t *testing.T) *harness {
	t.Helper()
	h := &harness{core: conductor.New(conductor.Options{})}
	h.core.OnInternalError = func(err error) {
		h.mu.Lock()
		h.internal = append(h.internal, err)
		h.mu.Unlock()
	}

	h.srv = New(h.core, Options{Addr: "127.0.0.1:0"})
	require.NoError(t, h.srv.Listen())
	h.addr = h.srv.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = h.core.Run(ctx) }()
	go func() { defer wg.Done(); _ = h.srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		h.core.Close()
		assert.NoError(t, h.srv.Close())
		wg.Wait()
	})
	return h
}

func dial(t *testing.T, addr string, hello wire.Hello) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, wire.Send(conn, wire.TypeHello, hello))
	return conn
}

func readWithin(t *testing.T, conn net.Conn, typ string) conductor.Task {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	task, err := wire.ReadTask(conn, typ)
	require.NoError(t, err)
	return task
}

func TestClientWorkerRoundTrip(t *testing.T) {
	h := start(t)

	worker := dial(t, h.addr, wire.Hello{Role: wire.RoleWorker, WorkerID: "w-a", Kind: conductor.KindA})
	client := dial(t, h.addr, wire.Hello{Role: wire.RoleClient, ClientID: 7})

	// The server stamps the connection's id on every task.
	require.NoError(t, wire.Send(client, wire.TypeTask, conductor.Task{ClientID: 99, TaskID: 3, Kind: conductor.KindA}))
	require.NoError(t, wire.Send(client, wire.TypeBye, nil))

	got := readWithin(t, worker, wire.TypeTask)
	assert.Equal(t, conductor.Task{ClientID: 7, TaskID: 3, Kind: conductor.KindA}, got)

	require.NoError(t, wire.Send(worker, wire.TypeDone, got))
	done := readWithin(t, client, wire.TypeDone)
	assert.Equal(t, got, done)

	require.Eventually(t, func() bool {
		return h.core.Pool(conductor.KindA).Available() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerDisconnectMidTask(t *testing.T) {
	h := start(t)

	worker := dial(t, h.addr, wire.Hello{Role: wire.RoleWorker, Kind: conductor.KindB})
	client := dial(t, h.addr, wire.Hello{Role: wire.RoleClient, ClientID: 1})
	require.NoError(t, wire.Send(client, wire.TypeTask, conductor.Task{TaskID: 0, Kind: conductor.KindB}))

	readWithin(t, worker, wire.TypeTask)
	require.NoError(t, worker.Close())

	require.Eventually(t, func() bool { return h.hasInternal(conductor.ErrWorkerLost) },
		2*time.Second, 10*time.Millisecond)
	st := h.core.Pool(conductor.KindB).Stats()
	assert.Equal(t, 1, st.Dead)
	assert.Equal(t, 0, st.Assigned)
	assert.Equal(t, 0, h.core.Pool(conductor.KindB).Live())
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h := start(t)

	client := dial(t, h.addr, wire.Hello{Role: wire.RoleClient, ClientID: 4})
	require.Eventually(t, func() bool { return h.core.Clients().Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return h.core.Clients().Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestDuplicateClientRejected(t *testing.T) {
	h := start(t)

	dial(t, h.addr, wire.Hello{Role: wire.RoleClient, ClientID: 5})
	require.Eventually(t, func() bool { return h.core.Clients().Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	dup := dial(t, h.addr, wire.Hello{Role: wire.RoleClient, ClientID: 5})
	require.NoError(t, dup.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := wire.ReadMessage(dup)
	assert.Error(t, err, "duplicate client connection should be closed")
	assert.Equal(t, 1, h.core.Clients().Len())
}

func TestBadHelloClosesConnection(t *testing.T) {
	h := start(t)

	tests := []struct {
		name string
		msg  func() (wire.Message, error)
	}{
		{"unknown role", func() (wire.Message, error) {
			return wire.Encode(wire.TypeHello, wire.Hello{Role: "observer"})
		}},
		{"wrong type", func() (wire.Message, error) {
			return wire.Encode(wire.TypeTask, conductor.Task{})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.Dial("tcp", h.addr)
			require.NoError(t, err)
			defer conn.Close()

			msg, err := tt.msg()
			require.NoError(t, err)
			require.NoError(t, wire.WriteMessage(conn, msg))

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, err = wire.ReadMessage(conn)
			var ne net.Error
			if errors.As(err, &ne) {
				assert.False(t, ne.Timeout(), "connection should be closed, not left open")
			}
			assert.Error(t, err)
		})
	}
}

func TestReadHelloValidation(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() { _ = wire.Send(a, wire.TypeHello, wire.Hello{Role: wire.RoleClient, ClientID: -1}) }()
	_, err := readHello(b)
	assert.ErrorIs(t, err, ErrBadHello)
}

func TestConnSink(t *testing.T) {
	s := newConnSink(1)
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, conductor.Task{TaskID: 1}))
	assert.ErrorIs(t, s.Deliver(ctx, conductor.Task{TaskID: 2}), ErrSinkFull)

	s.close()
	s.close()
	assert.ErrorIs(t, s.Deliver(ctx, conductor.Task{TaskID: 3}), ErrSinkClosed)

	got, ok := <-s.C()
	assert.True(t, ok)
	assert.Equal(t, 1, got.TaskID)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := New(conductor.New(conductor.Options{}), Options{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Listen())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background()) }()

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
