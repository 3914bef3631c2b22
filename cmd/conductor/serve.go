package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/admin"
	"github.com/azargarov/conductor/internal/config"
	"github.com/azargarov/conductor/internal/metrics"
	"github.com/azargarov/conductor/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conductor TCP server and the admin HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "TCP listen address")
	cmd.Flags().String("admin-addr", "", "admin HTTP address, empty to disable")
	cmd.Flags().Int("crossover-factor", 0, "crossover backlog multiplier")
	a.bind(cmd, "addr", "server.addr")
	a.bind(cmd, "admin-addr", "server.admin_addr")
	a.bind(cmd, "crossover-factor", "conductor.crossover_factor")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := lg.FromContext(ctx)

	prom := metrics.NewProm()
	opts := cfg.Options()
	opts.Metrics = prom
	core := conductor.New(opts)
	core.OnDeliveryError = func(err error) {
		logger.Warn("completion not delivered", lg.Any("error", err))
	}

	srv := server.New(core, server.Options{Addr: cfg.Server.Addr, SinkBuffer: cfg.Conductor.SinkBuffer})
	if err := srv.Listen(); err != nil {
		return err
	}

	if a.cfgFile != "" {
		config.Watch(ctx, a.v, func(c *config.Config) {
			core.SetCrossoverFactor(c.Conductor.CrossoverFactor)
		})
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		defer core.Close()
		return core.Run(ctx)
	})
	p.Go(srv.Serve)
	if cfg.Server.AdminAddr != "" {
		router := admin.NewRouter(core, metrics.NewRegistry(prom, core.Stats))
		p.Go(func(ctx context.Context) error {
			return admin.Serve(ctx, cfg.Server.AdminAddr, router)
		})
	}
	err := p.Wait()
	logger.Info("conductor stopped")
	return err
}
