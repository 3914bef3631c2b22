package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/azargarov/conductor/internal/sim"
)

func newWorkerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one simulated worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			w := sim.NewWorker(sim.WorkerConfig{
				Addr:         cfg.Server.Addr,
				Kind:         cfg.WorkerKind(),
				MatchCost:    cfg.Worker.MatchCost,
				MismatchCost: cfg.Worker.MismatchCost,
				Retry:        retryPolicy(a),
			})
			err := w.Run(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), infoStyle.Render(workerLine(w.ID(), w.Kind(), w.Processed(), w.Mismatched())))
			return err
		},
	}
	cmd.Flags().String("addr", "", "conductor address")
	cmd.Flags().String("kind", "", "worker kind, A or B")
	cmd.Flags().Duration("match-cost", 0, "time spent on a task of the worker's kind")
	cmd.Flags().Duration("mismatch-cost", 0, "time spent on a task of the other kind")
	a.bind(cmd, "addr", "server.addr")
	a.bind(cmd, "kind", "worker.kind")
	a.bind(cmd, "match-cost", "worker.match_cost")
	a.bind(cmd, "mismatch-cost", "worker.mismatch_cost")
	return cmd
}

func retryPolicy(a *app) sim.RetryPolicy {
	return sim.RetryPolicy{
		Attempts: a.cfg.Dial.Attempts,
		Initial:  a.cfg.Dial.Initial,
		Max:      a.cfg.Dial.Max,
	}
}
