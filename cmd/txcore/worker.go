package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/eaglebank/transaction-core/internal/dispatch"
	"github.com/eaglebank/transaction-core/internal/logging"
	"github.com/eaglebank/transaction-core/internal/sweeper"
	"github.com/spf13/cobra"
)

func workerCmd(configPath *string) *cobra.Command {
	var consumer string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume dispatched tasks and run the busy-status sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, *configPath, consumer)
		},
	}
	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer name within the group (defaults to worker.consumer)")
	return cmd
}

func runWorker(ctx context.Context, configPath, consumer string) error {
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if consumer == "" {
		consumer = a.cfg.Worker.Consumer
	}

	commands, err := a.commandService()
	if err != nil {
		return err
	}

	w := dispatch.NewWorker(a.redis.Client, dispatch.WorkerConfig{
		Stream:        a.cfg.Worker.Stream,
		Group:         a.cfg.Worker.Group,
		Consumer:      consumer,
		Concurrency:   a.cfg.Worker.Concurrency,
		BatchSize:     a.cfg.Worker.BatchSize,
		BlockDuration: a.cfg.Worker.BlockDuration,
		ClaimIdle:     a.cfg.Worker.ClaimIdle,
		MaxDeliveries: a.cfg.Worker.MaxDeliveries,
	}, logging.Component(a.logger, "worker"))
	a.orch.Register(w)
	commands.Register(w)

	sw, err := sweeper.New(a.store, a.locks, a.cfg.Sweeper.Schedule, logging.Component(a.logger, "sweeper"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweepDone := make(chan error, 1)
	go func() {
		sweepDone <- sw.Start(ctx)
	}()

	a.logger.WithField("consumer", consumer).Info("worker started")
	err = w.Start(ctx)
	cancel()
	<-sweepDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("worker stopped")
	return nil
}
