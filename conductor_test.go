package conductor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestConductorRoundTrip(t *testing.T) {
	m := &AtomicMetrics{}
	c := New(Options{Metrics: m})
	sink := &collectSink{}
	ctx := context.Background()

	if err := c.OnClientConnected(ctx, 7, sink); err != nil {
		t.Fatal(err)
	}
	if err := c.OnClientConnected(ctx, 7, sink); !errors.Is(err, ErrDuplicateClient) {
		t.Fatalf("duplicate client: %v", err)
	}
	slots := connect(t, c, KindA)
	runConductor(t, c)

	task := Task{ClientID: 7, TaskID: 3, Kind: KindA}
	submitAll(t, c, []Task{task})
	got := recvTask(t, slots[0])
	if got != task {
		t.Fatalf("worker got %s; want %s", got, task)
	}
	if st := c.Stats(); st.Pools[KindA].Assigned != 1 {
		t.Fatalf("stats = %+v", st)
	}

	if err := c.Complete(ctx, slots[0], got); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(sink.tasks()) == 1 })
	if d := sink.tasks()[0]; d != task {
		t.Fatalf("delivered %s; want %s", d, task)
	}

	s, ok := c.Pool(KindA).TryAcquire()
	if !ok || s != slots[0] {
		t.Fatal("slot not back in its pool after completion")
	}
	_ = c.Pool(KindA).Release(s)

	if m.Submitted() != 1 || m.Completed() != 1 || m.Assigned(BranchMatchingOnly) != 1 {
		t.Fatalf("metrics submitted=%d completed=%d", m.Submitted(), m.Completed())
	}
}

func TestConductorWorkerLostMidTask(t *testing.T) {
	var internal errorLog
	c := New(Options{})
	c.OnInternalError = internal.handle
	slots := connect(t, c, KindA)
	runConductor(t, c)

	submitAll(t, c, tasksOf(1, KindA))
	recvTask(t, slots[0])
	c.OnWorkerDisconnected(context.Background(), slots[0])
	c.OnWorkerDisconnected(context.Background(), slots[0])

	if !internal.has(ErrWorkerLost) {
		t.Fatal("lost task not reported")
	}
	st := c.Pool(KindA).Stats()
	if st.Dead != 1 || st.Assigned != 0 || st.Available != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if c.Pool(KindA).Count() != 1 {
		t.Fatal("Count must not drop on disconnect")
	}
}

func TestConductorCompletionQueuedBeforeDisconnect(t *testing.T) {
	var internal errorLog
	sink := &collectSink{}
	c := New(Options{})
	c.OnInternalError = internal.handle
	_ = c.OnClientConnected(context.Background(), 1, sink)
	slots := connect(t, c, KindA)

	// Route the task but keep the router from draining completions.
	submitAll(t, c, tasksOf(1, KindA))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Dispatcher().Run(ctx) }()

	task := recvTask(t, slots[0])
	if err := c.Complete(context.Background(), slots[0], task); err != nil {
		t.Fatal(err)
	}
	c.OnWorkerDisconnected(context.Background(), slots[0])
	if internal.has(ErrWorkerLost) {
		t.Fatal("reported a completed task as lost")
	}

	go func() { _ = c.Router().Run(ctx) }()
	waitUntil(t, time.Second, func() bool { return len(sink.tasks()) == 1 })
	waitUntil(t, time.Second, func() bool { return c.Pool(KindA).Stats().Assigned == 0 })
	if c.Pool(KindA).Available() != 0 {
		t.Fatal("dead slot returned to rotation")
	}
}

func TestConductorClientDisconnect(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	_ = c.OnClientConnected(ctx, 2, &collectSink{})
	c.OnClientDisconnected(ctx, 2)
	c.OnClientDisconnected(ctx, 2)
	if c.Clients().Len() != 0 {
		t.Fatalf("clients = %d", c.Clients().Len())
	}
}

func TestConductorRejectsInvalidWorkerKind(t *testing.T) {
	c := New(Options{})
	if _, err := c.OnWorkerConnected(context.Background(), Kind(5)); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v; want ErrUnknownKind", err)
	}
}

func TestConductorRunStopsOnClose(t *testing.T) {
	c := New(Options{})
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	c.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v; want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	if err := c.Submit(context.Background(), Task{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("submit after close: %v", err)
	}
}

// Two clients, two workers of each kind, workers completing as they
// receive: every task is delivered exactly once to its owner.
func TestConductorManyTasksDeliveredOnce(t *testing.T) {
	const perClient = 60
	c := New(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sinks := []*collectSink{{}, {}}
	for id, s := range sinks {
		if err := c.OnClientConnected(ctx, id, s); err != nil {
			t.Fatal(err)
		}
	}
	slots := connect(t, c, KindA, KindA, KindB, KindB)
	runConductor(t, c)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	for _, s := range slots {
		wg.Add(1)
		go func(s *WorkerSlot) {
			defer wg.Done()
			for {
				select {
				case task := <-s.Outbound():
					if err := c.Complete(ctx, s, task); err != nil {
						if ctx.Err() == nil {
							t.Errorf("complete %s: %v", task, err)
						}
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(s)
	}

	for id := range sinks {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range perClient {
				k := KindA
				if i%3 == 0 {
					k = KindB
				}
				if err := c.Submit(ctx, Task{ClientID: id, TaskID: i, Kind: k}); err != nil {
					if ctx.Err() == nil {
						t.Errorf("submit: %v", err)
					}
					return
				}
			}
		}(id)
	}

	waitUntil(t, 5*time.Second, func() bool {
		return len(sinks[0].tasks()) == perClient && len(sinks[1].tasks()) == perClient
	})
	for id, s := range sinks {
		seen := make(map[int]bool, perClient)
		for _, task := range s.tasks() {
			if task.ClientID != id {
				t.Fatalf("client %d received %s", id, task)
			}
			if seen[task.TaskID] {
				t.Fatalf("client %d received %s twice", id, task)
			}
			seen[task.TaskID] = true
		}
	}

	for _, k := range Kinds {
		st := c.Pool(k).Stats()
		if st.Registered != st.Available+st.Assigned {
			t.Fatalf("pool %s conservation broken: %+v", k, st)
		}
	}
}
