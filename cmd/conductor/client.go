package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/azargarov/conductor/internal/sim"
)

func newClientCmd(a *app) *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run one simulated client and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := sim.NewClient(sim.ClientConfig{
				Addr:  a.cfg.Server.Addr,
				ID:    id,
				Tasks: a.cfg.Client.Tasks,
				Seed:  a.cfg.Client.Seed,
				Retry: retryPolicy(a),
			})
			rep, err := c.Run(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), renderReports([]sim.Report{rep}))
			return err
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "client id, unique per conductor")
	cmd.Flags().String("addr", "", "conductor address")
	cmd.Flags().Int("tasks", 0, "number of tasks to submit")
	cmd.Flags().Int64("seed", 0, "task generator seed, 0 for time based")
	a.bind(cmd, "addr", "server.addr")
	a.bind(cmd, "tasks", "client.tasks")
	a.bind(cmd, "seed", "client.seed")
	return cmd
}
