package conductor

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not satisfied before timeout")
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func tasksOf(client int, kinds ...Kind) []Task {
	out := make([]Task, len(kinds))
	for i, k := range kinds {
		out[i] = Task{ClientID: client, TaskID: i, Kind: k}
	}
	return out
}

func repeatKind(k Kind, n int) []Kind {
	out := make([]Kind, n)
	for i := range out {
		out[i] = k
	}
	return out
}

// collectSink records delivered tasks.
type collectSink struct {
	mu   sync.Mutex
	got  []Task
	fail error
}

func (s *collectSink) Deliver(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, t)
	return nil
}

func (s *collectSink) tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.got...)
}

// runConductor starts c.Run and stops it when the test ends.
func runConductor(t *testing.T, c *Conductor) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		errc <- c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		c.Close()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("conductor did not stop")
		}
	})
	return errc
}

// recvTask waits for the next task handed to slot.
func recvTask(t *testing.T, s *WorkerSlot) Task {
	t.Helper()
	select {
	case task := <-s.Outbound():
		return task
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no task received", s)
		return Task{}
	}
}

func expectNoTask(t *testing.T, s *WorkerSlot, d time.Duration) {
	t.Helper()
	select {
	case task := <-s.Outbound():
		t.Fatalf("%s: unexpected %s", s, task)
	case <-time.After(d):
	}
}
