package sim

import (
	"context"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/wire"
)

func TestGenerateTasks(t *testing.T) {
	a := GenerateTasks(3, 200, rand.New(rand.NewPCG(1, 3)))
	b := GenerateTasks(3, 200, rand.New(rand.NewPCG(1, 3)))
	require.Equal(t, a, b, "same seed must give the same tasks")

	var byKind [2]int
	for i, task := range a {
		assert.Equal(t, 3, task.ClientID)
		assert.Equal(t, i, task.TaskID)
		byKind[task.Kind]++
	}
	assert.Greater(t, byKind[conductor.KindA], 50)
	assert.Greater(t, byKind[conductor.KindB], 50)
}

func TestTracker(t *testing.T) {
	tasks := []conductor.Task{
		{ClientID: 1, TaskID: 0, Kind: conductor.KindA},
		{ClientID: 1, TaskID: 1, Kind: conductor.KindB},
	}
	tr := NewTracker(tasks)
	assert.Equal(t, 2, tr.Pending())

	require.NoError(t, tr.Complete(tasks[1]))
	assert.ErrorIs(t, tr.Complete(tasks[1]), ErrUnexpectedTask)
	assert.ErrorIs(t, tr.Complete(conductor.Task{ClientID: 1, TaskID: 0, Kind: conductor.KindB}), ErrUnexpectedTask)

	select {
	case <-tr.Done():
		t.Fatal("done with a task pending")
	default:
	}
	require.NoError(t, tr.Complete(tasks[0]))
	select {
	case <-tr.Done():
	default:
		t.Fatal("not done after last completion")
	}

	empty := NewTracker(nil)
	select {
	case <-empty.Done():
	default:
		t.Fatal("empty tracker not done")
	}
}

func TestWorkerCost(t *testing.T) {
	w := NewWorker(WorkerConfig{Kind: conductor.KindB, MatchCost: time.Second, MismatchCost: 5 * time.Second})
	assert.Equal(t, time.Second, w.Cost(conductor.KindB))
	assert.Equal(t, 5*time.Second, w.Cost(conductor.KindA))
	assert.NotEmpty(t, w.ID())
}

func TestDialGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, RetryPolicy{Attempts: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond})
	assert.Error(t, err)
}

func TestDialRetriesUntilListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	go func() {
		time.Sleep(30 * time.Millisecond)
		ln2, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		defer ln2.Close()
		if c, err := ln2.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := Dial(context.Background(), addr, RetryPolicy{Attempts: 50, Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond})
	require.NoError(t, err)
	conn.Close()
}

func TestDialHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "127.0.0.1:1", RetryPolicy{Attempts: 5, Initial: time.Second, Max: time.Second})
	assert.Error(t, err)
}

// The worker sleeps for its cost and echoes the task back.
func TestWorkerServe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()

	w := NewWorker(WorkerConfig{Kind: conductor.KindA, MatchCost: time.Millisecond, MismatchCost: 2 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.serve(ctx, b) }()

	msg, err := wire.ReadMessage(a)
	require.NoError(t, err)
	var h wire.Hello
	require.NoError(t, wire.Decode(msg, wire.TypeHello, &h))
	assert.Equal(t, wire.RoleWorker, h.Role)

	task := conductor.Task{ClientID: 2, TaskID: 9, Kind: conductor.KindB}
	require.NoError(t, wire.Send(a, wire.TypeTask, task))
	done, err := wire.ReadTask(a, wire.TypeDone)
	require.NoError(t, err)
	assert.Equal(t, task, done)

	require.NoError(t, a.Close())
	require.NoError(t, <-errc)
	assert.Equal(t, int64(1), w.Processed())
	assert.Equal(t, int64(1), w.Mismatched())
}

func TestScenarioDeliversEverything(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sum, err := Run(ctx, Scenario{
		WorkersA:       1,
		WorkersB:       2,
		Clients:        3,
		TasksPerClient: 12,
		Seed:           42,
		MatchCost:      time.Millisecond,
		MismatchCost:   3 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Len(t, sum.Clients, 3)
	for _, rep := range sum.Clients {
		assert.Equal(t, 12, rep.Sent)
		assert.Equal(t, 12, rep.Received)
		assert.Zero(t, rep.Unexpected)
	}

	var processed int64
	for _, w := range sum.Workers {
		processed += w.Processed
	}
	assert.Equal(t, int64(36), processed)
	assert.Equal(t, uint64(36), sum.Delivered)
	assert.Zero(t, sum.Dropped)

	var assigned uint64
	for _, n := range sum.Assignments {
		assigned += n
	}
	assert.Equal(t, uint64(36), assigned)
}
