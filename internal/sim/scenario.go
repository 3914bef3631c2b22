package sim

import (
	"context"
	"fmt"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/server"
)

// Scenario describes an in-process run: one conductor, a number of
// workers per kind and a number of clients.
type Scenario struct {
	WorkersA int
	WorkersB int
	Clients  int

	TasksPerClient int
	Seed           int64

	MatchCost    time.Duration
	MismatchCost time.Duration

	Options    conductor.Options
	SinkBuffer int
}

// WorkerSummary is what one simulated worker did.
type WorkerSummary struct {
	ID         string
	Kind       conductor.Kind
	Processed  int64
	Mismatched int64
}

// Summary is the outcome of a scenario.
type Summary struct {
	Clients     []Report
	Workers     []WorkerSummary
	Assignments map[conductor.Branch]uint64
	Delivered   uint64
	Dropped     uint64
	Elapsed     time.Duration
}

// Run executes sc and returns once every client got all its tasks back,
// or ctx is done.
func Run(ctx context.Context, sc Scenario) (Summary, error) {
	var sum Summary
	start := time.Now()

	metrics := &conductor.AtomicMetrics{}
	opts := sc.Options
	opts.Metrics = metrics
	core := conductor.New(opts)

	srv := server.New(core, server.Options{Addr: "127.0.0.1:0", SinkBuffer: sc.SinkBuffer})
	if err := srv.Listen(); err != nil {
		return sum, err
	}
	addr := srv.Addr().String()

	infra, cancelInfra := context.WithCancel(ctx)
	defer cancelInfra()
	bg := pool.New().WithErrors()
	bg.Go(func() error { return core.Run(infra) })
	bg.Go(func() error { return srv.Serve(infra) })

	workers := make([]*Worker, 0, sc.WorkersA+sc.WorkersB)
	for _, k := range conductor.Kinds {
		n := sc.WorkersA
		if k == conductor.KindB {
			n = sc.WorkersB
		}
		for i := range n {
			workers = append(workers, NewWorker(WorkerConfig{
				Addr:         addr,
				Kind:         k,
				ID:           fmt.Sprintf("%s-%d", k, i),
				MatchCost:    sc.MatchCost,
				MismatchCost: sc.MismatchCost,
			}))
		}
	}
	wp := pool.New().WithErrors()
	for _, w := range workers {
		wp.Go(func() error { return w.Run(infra) })
	}

	cp := pool.NewWithResults[Report]().WithContext(ctx).WithCancelOnError()
	for id := range sc.Clients {
		seed := sc.Seed
		if seed != 0 {
			seed += int64(id)
		}
		c := NewClient(ClientConfig{Addr: addr, ID: id, Tasks: sc.TasksPerClient, Seed: seed})
		cp.Go(func(ctx context.Context) (Report, error) { return c.Run(ctx) })
	}
	reports, err := cp.Wait()
	sum.Clients = reports

	cancelInfra()
	core.Close()
	err = multierr.Combine(err, srv.Close(), wp.Wait(), bg.Wait())

	for _, w := range workers {
		sum.Workers = append(sum.Workers, WorkerSummary{
			ID:         w.ID(),
			Kind:       w.Kind(),
			Processed:  w.Processed(),
			Mismatched: w.Mismatched(),
		})
	}
	sum.Assignments = make(map[conductor.Branch]uint64)
	for b := conductor.BranchOtherOnly; b <= conductor.BranchWait; b++ {
		if n := metrics.Assigned(b); n > 0 {
			sum.Assignments[b] = n
		}
	}
	sum.Delivered = metrics.Completed()
	sum.Dropped = metrics.Dropped()
	sum.Elapsed = time.Since(start)

	lg.FromContext(ctx).Info("scenario finished",
		lg.Int("clients", len(sum.Clients)),
		lg.Int("workers", len(sum.Workers)),
		lg.String("elapsed", sum.Elapsed.String()),
	)
	return sum, err
}

// Crossovers returns how many tasks ran on a worker of the other kind
// because of backlog.
func (s Summary) Crossovers() uint64 { return s.Assignments[conductor.BranchCrossover] }
