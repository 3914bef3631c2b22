// Package sim provides simulated workers and clients that speak the
// conductor wire protocol, plus an in-process scenario runner.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/google/uuid"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/wire"
)

// WorkerConfig configures a simulated worker.
type WorkerConfig struct {
	Addr string
	Kind conductor.Kind
	// ID is only used for logging; a random one is generated if empty.
	ID string

	// MatchCost is the time spent on a task of the worker's own kind,
	// MismatchCost on a task of the other kind.
	MatchCost    time.Duration
	MismatchCost time.Duration

	Retry RetryPolicy
}

// Worker processes tasks by sleeping for the cost of their kind.
type Worker struct {
	cfg WorkerConfig

	processed  atomic.Int64
	mismatched atomic.Int64
}

// NewWorker creates a worker; call Run to connect.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	return &Worker{cfg: cfg}
}

func (w *Worker) ID() string { return w.cfg.ID }

func (w *Worker) Kind() conductor.Kind { return w.cfg.Kind }

// Processed returns the number of tasks completed so far.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Mismatched returns how many of them were of the other kind.
func (w *Worker) Mismatched() int64 { return w.mismatched.Load() }

// Cost returns how long a task of kind k takes on this worker.
func (w *Worker) Cost(k conductor.Kind) time.Duration {
	if k == w.cfg.Kind {
		return w.cfg.MatchCost
	}
	return w.cfg.MismatchCost
}

// Run connects, announces the worker and processes tasks one at a time
// until ctx is done or the conductor closes the connection.
func (w *Worker) Run(ctx context.Context) error {
	conn, err := Dial(ctx, w.cfg.Addr, w.cfg.Retry)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	return w.serve(ctx, conn)
}

func (w *Worker) serve(ctx context.Context, conn net.Conn) error {
	logger := lg.FromContext(ctx).With(lg.String("worker_id", w.cfg.ID), lg.String("kind", w.cfg.Kind.String()))

	hello := wire.Hello{Role: wire.RoleWorker, WorkerID: w.cfg.ID, Kind: w.cfg.Kind}
	if err := wire.Send(conn, wire.TypeHello, hello); err != nil {
		return fmt.Errorf("sim: worker hello: %w", err)
	}
	logger.Info("worker connected")

	for {
		t, err := wire.ReadTask(conn, wire.TypeTask)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("sim: worker read: %w", err)
		}

		cost := w.Cost(t.Kind)
		logger.Info("processing task", lg.String("task", t.String()), lg.String("cost", cost.String()))
		if err := sleep(ctx, cost); err != nil {
			return nil
		}

		if err := wire.Send(conn, wire.TypeDone, t); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sim: worker send: %w", err)
		}
		w.processed.Add(1)
		if t.Kind != w.cfg.Kind {
			w.mismatched.Add(1)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
