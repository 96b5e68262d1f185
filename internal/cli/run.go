package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"feed_relay/internal/httpapi"
	"feed_relay/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync all sources on the configured interval until interrupted",
	RunE:  runAction,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.NewScheduler(a.pipeline, cfg.Sync.Interval, cfg.Sync.RunTimeout, logger)

	logger.Info("starting feed relay",
		"sources", len(cfg.Sources),
		"storage", cfg.Storage.Driver,
		"interval", cfg.Sync.Interval,
		"parallelism", cfg.Sync.Parallelism,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(ctx)
	})
	if cfg.HTTP.Addr != "" {
		api := httpapi.New(a.storage.states, a.storage.deliveries, a.pipeline, logger)
		g.Go(func() error {
			return api.Run(ctx, cfg.HTTP.Addr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped with error", "error", err)
		return err
	}

	logger.Info("received shutdown signal, relay stopped")
	return nil
}
