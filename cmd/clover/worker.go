package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/kafka"
)

func newWorkerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued import requests and run them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return work(ctx, root)
		},
	}
}

func work(ctx context.Context, root *rootOptions) error {
	cfg, logger := root.cfg, root.logger
	if !cfg.KafkaEnabled {
		return errors.New("the import worker requires KAFKA_ENABLED=true")
	}

	a := newApp(cfg, logger, appOptions{Kafka: true})
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	defer func() {
		if err := a.Stop(context.Background()); err != nil {
			logger.WithError(err).Error("Failed to stop dependencies")
		}
	}()

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaImportTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	}, logger, a.importService.HandleImportRequest)

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping import worker")
	return consumer.Stop()
}
