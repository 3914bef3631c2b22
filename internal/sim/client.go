package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/wire"
)

var (
	// ErrUnexpectedTask is returned by Tracker.Complete for a task that
	// was never sent or already came back.
	ErrUnexpectedTask = errors.New("sim: unexpected completed task")

	// ErrIncomplete is returned when the connection ends with tasks
	// still pending.
	ErrIncomplete = errors.New("sim: connection closed with tasks pending")
)

// GenerateTasks returns n tasks for client id with ids 0..n-1 and
// kinds drawn 50/50 from rng.
func GenerateTasks(id, n int, rng *rand.Rand) []conductor.Task {
	tasks := make([]conductor.Task, n)
	for i := range tasks {
		k := conductor.KindA
		if rng.IntN(2) == 1 {
			k = conductor.KindB
		}
		tasks[i] = conductor.Task{ClientID: id, TaskID: i, Kind: k}
	}
	return tasks
}

// Tracker keeps the tasks a client is still waiting for.
type Tracker struct {
	mu      sync.Mutex
	pending map[int]conductor.Task
	done    chan struct{}
	closed  bool
}

// NewTracker tracks tasks as pending.
func NewTracker(tasks []conductor.Task) *Tracker {
	tr := &Tracker{
		pending: make(map[int]conductor.Task, len(tasks)),
		done:    make(chan struct{}),
	}
	for _, t := range tasks {
		tr.pending[t.TaskID] = t
	}
	tr.closeIfEmpty()
	return tr
}

// Complete removes t from the pending set.
func (tr *Tracker) Complete(t conductor.Task) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	want, ok := tr.pending[t.TaskID]
	if !ok || want != t {
		return fmt.Errorf("%w: %s", ErrUnexpectedTask, t)
	}
	delete(tr.pending, t.TaskID)
	tr.closeIfEmptyLocked()
	return nil
}

// Pending returns how many tasks have not come back yet.
func (tr *Tracker) Pending() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.pending)
}

// Done is closed once every task has come back.
func (tr *Tracker) Done() <-chan struct{} { return tr.done }

func (tr *Tracker) closeIfEmpty() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.closeIfEmptyLocked()
}

func (tr *Tracker) closeIfEmptyLocked() {
	if !tr.closed && len(tr.pending) == 0 {
		tr.closed = true
		close(tr.done)
	}
}

// ClientConfig configures a simulated client.
type ClientConfig struct {
	Addr  string
	ID    int
	Tasks int
	// Seed of the task generator; 0 picks a time-based seed.
	Seed  int64
	Retry RetryPolicy
}

// Report summarizes one client run.
type Report struct {
	ClientID   int
	Sent       int
	Received   int
	Unexpected int
	ByKind     [2]int
	Elapsed    time.Duration
}

// Client submits a batch of tasks and waits for all of them to return.
type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client { return &Client{cfg: cfg} }

// Run connects, sends every task followed by a bye frame and reads
// completions until none is pending.
func (c *Client) Run(ctx context.Context) (Report, error) {
	seed := c.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(c.cfg.ID)))
	tasks := GenerateTasks(c.cfg.ID, c.cfg.Tasks, rng)

	conn, err := Dial(ctx, c.cfg.Addr, c.cfg.Retry)
	if err != nil {
		return Report{ClientID: c.cfg.ID}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	return c.exchange(ctx, conn, tasks)
}

func (c *Client) exchange(ctx context.Context, conn net.Conn, tasks []conductor.Task) (rep Report, err error) {
	logger := lg.FromContext(ctx).With(lg.Int("client_id", c.cfg.ID))
	rep.ClientID = c.cfg.ID
	start := time.Now()
	defer func() { rep.Elapsed = time.Since(start) }()

	tracker := NewTracker(tasks)
	if err := wire.Send(conn, wire.TypeHello, wire.Hello{Role: wire.RoleClient, ClientID: c.cfg.ID}); err != nil {
		return rep, fmt.Errorf("sim: client hello: %w", err)
	}

	// Sending runs next to reading so a full conductor queue cannot
	// deadlock against unread completions.
	sendErr := make(chan error, 1)
	go func() {
		for _, t := range tasks {
			if err := wire.Send(conn, wire.TypeTask, t); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- wire.Send(conn, wire.TypeBye, nil)
	}()
	rep.Sent = len(tasks)
	for _, t := range tasks {
		rep.ByKind[t.Kind]++
	}

	for tracker.Pending() > 0 {
		t, rerr := wire.ReadTask(conn, wire.TypeDone)
		if rerr != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			if errors.Is(rerr, io.EOF) {
				rerr = fmt.Errorf("%w: %d left", ErrIncomplete, tracker.Pending())
			}
			return rep, rerr
		}
		if cerr := tracker.Complete(t); cerr != nil {
			rep.Unexpected++
			logger.Warn("unexpected completion", lg.Any("error", cerr))
			continue
		}
		rep.Received++
		logger.Info("task returned", lg.String("task", t.String()), lg.Int("pending", tracker.Pending()))
	}

	if serr := <-sendErr; serr != nil {
		return rep, fmt.Errorf("sim: client send: %w", serr)
	}
	logger.Info("all tasks returned", lg.Int("tasks", rep.Received))
	return rep, nil
}
