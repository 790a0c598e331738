package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/streadway/amqp"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dbilnica/fundwave-dapp/internal/config"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/queue"
	"github.com/dbilnica/fundwave-dapp/internal/service"
)

const (
	programName = "fundwave-worker"
	maxRetries  = 3
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Delivers relayed ledger events to webhooks",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			level := slog.LevelInfo
			if cfg.Debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
				logger.Info(fmt.Sprintf(format, v...), "component", programName)
			})); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file to load")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.AMQPURL == "" {
		return fmt.Errorf("FUNDWAVE_AMQP_URL is required")
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	q, err := queue.DeclareQueue(ch, cfg.QueueName)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	msgs, err := ch.Consume(
		q.Name,
		programName,
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	worker := service.NewWorker(cfg.WebhookURLs, nil, service.HTTPSender(nil), logger)
	republish := func(msg amqp.Publishing) error {
		return ch.Publish("", q.Name, false, false, msg)
	}

	logger.Info("worker running, waiting for messages", "component", programName, "queue", q.Name, "webhooks", len(cfg.WebhookURLs))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			handleDelivery(ctx, worker, d, republish, logger)
		}
	}
}

// retryCount reads RetryHeader, which arrives as whichever integer width the
// publisher used. A missing header is a first attempt; a value of any other
// type counts as exhausted.
func retryCount(h amqp.Table) int {
	raw, ok := h[queue.RetryHeader]
	if !ok {
		return 0
	}
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint64:
		if v > maxRetries {
			return maxRetries
		}
		n = int64(v)
	default:
		return maxRetries
	}
	if n < 0 || n > maxRetries {
		return maxRetries
	}
	return int(n)
}

// handleDelivery processes one delivery. Failed events are published again
// with an incremented retry header, since a plain requeue would not count
// attempts, and dropped after maxRetries.
func handleDelivery(ctx context.Context, worker *service.Worker, d amqp.Delivery, republish func(amqp.Publishing) error, logger *slog.Logger) {
	var ev model.LedgerEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.Warn("invalid job, dropping", "component", programName, "error", err)
		d.Ack(false)
		return
	}

	err := worker.Process(ctx, ev)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if retries >= maxRetries {
		logger.Error("giving up on event", "component", programName, "seq", ev.Seq, "retries", retries, "error", err)
		d.Ack(false)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[queue.RetryHeader] = int32(retries + 1)
	retry := amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Body:         d.Body,
	}
	if perr := republish(retry); perr != nil {
		logger.Error("failed to schedule retry, requeueing", "component", programName, "seq", ev.Seq, "error", perr)
		d.Nack(false, true)
		return
	}
	logger.Warn("event delivery failed, retrying", "component", programName, "seq", ev.Seq, "attempt", retries+1, "error", err)
	d.Ack(false)
}
