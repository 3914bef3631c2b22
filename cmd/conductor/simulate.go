package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/azargarov/conductor/internal/sim"
)

func newSimulateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run conductor, workers and clients in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			sum, err := sim.Run(ctx, sim.Scenario{
				WorkersA:       cfg.Simulate.WorkersA,
				WorkersB:       cfg.Simulate.WorkersB,
				Clients:        cfg.Simulate.Clients,
				TasksPerClient: cfg.Client.Tasks,
				Seed:           cfg.Client.Seed,
				MatchCost:      cfg.Worker.MatchCost,
				MismatchCost:   cfg.Worker.MismatchCost,
				Options:        cfg.Options(),
				SinkBuffer:     cfg.Conductor.SinkBuffer,
			})
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(sum))
			return err
		},
	}
	cmd.Flags().Int("workers-a", 0, "number of A workers")
	cmd.Flags().Int("workers-b", 0, "number of B workers")
	cmd.Flags().Int("clients", 0, "number of clients")
	cmd.Flags().Int("tasks", 0, "tasks per client")
	cmd.Flags().Duration("match-cost", 0, "time spent on a task of the worker's kind")
	cmd.Flags().Duration("mismatch-cost", 0, "time spent on a task of the other kind")
	cmd.Flags().Int("crossover-factor", 0, "crossover backlog multiplier")
	a.bind(cmd, "workers-a", "simulate.workers_a")
	a.bind(cmd, "workers-b", "simulate.workers_b")
	a.bind(cmd, "clients", "simulate.clients")
	a.bind(cmd, "tasks", "client.tasks")
	a.bind(cmd, "match-cost", "worker.match_cost")
	a.bind(cmd, "mismatch-cost", "worker.mismatch_cost")
	a.bind(cmd, "crossover-factor", "conductor.crossover_factor")
	return cmd
}
