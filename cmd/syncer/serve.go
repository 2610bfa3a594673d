package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"erp_sync/internal/httpapi"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and process the sync queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			server := httpapi.NewServer(cfg.HTTP.Addr, a.router(), logger)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(server.Start)
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			startBackground(ctx, g, a)

			logger.Info("syncer serving",
				"addr", cfg.HTTP.Addr,
				"schedule_interval", cfg.Sync.Interval,
				"queue_concurrency", cfg.Queue.Concurrency,
			)
			return ignoreCanceled(g.Wait())
		},
	}
}

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process the sync queue and schedule periodic syncs without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			g, ctx := errgroup.WithContext(cmd.Context())
			startBackground(ctx, g, a)

			logger.Info("syncer worker started",
				"schedule_interval", cfg.Sync.Interval,
				"queue_concurrency", cfg.Queue.Concurrency,
			)
			return ignoreCanceled(g.Wait())
		},
	}
}

// startBackground runs the queue processor and the periodic scheduler.
func startBackground(ctx context.Context, g *errgroup.Group, a *app) {
	processor := a.queueProcessor()
	sched := a.scheduler()
	g.Go(func() error { return processor.Start(ctx) })
	g.Go(func() error { return sched.Start(ctx) })
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
