package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskhooks/internal"
	"taskhooks/pkg/push"
	"taskhooks/pkg/worker"

	"go.uber.org/zap"
)

// Consumes push deliveries from a broker and logs the task each push
// references. Useful to check routing rules before enabling the activity
// worker.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	driver := flag.String("driver", "", "Override subscriber driver (amqp|nats|kafka|sql)")
	flag.Parse()

	bootstrap, _ := zap.NewProduction()
	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		bootstrap.Fatal("load config", zap.Error(err))
	}
	if _, err := internal.SetupLogging(cfg.Log); err != nil {
		bootstrap.Fatal("setup logging", zap.Error(err))
	}
	logger := internal.NewLogger("worker-example")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	subCfg := worker.SubscriberConfigFromWatermill(cfg.Watermill)
	if *driver != "" {
		subCfg.Driver = *driver
		subCfg.Drivers = nil
	}
	if !subCfg.Enabled() {
		logger.Fatal("no subscriber driver configured")
	}

	sub, err := worker.BuildSubscriber(subCfg, logger)
	if err != nil {
		logger.Fatal("subscriber", zap.Error(err))
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logger.Warn("subscriber close", zap.Error(err))
		}
	}()

	topics := worker.TopicsFromRules(cfg.Rules)
	if len(topics) == 0 {
		topics = cfg.Worker.Topics
	}

	wk := worker.New(
		worker.WithSubscriber(sub),
		worker.WithTopics(topics...),
		worker.WithConcurrency(1),
		worker.WithLogger(logger),
		worker.WithRetry(worker.AckOnError{}),
		worker.WithMiddleware(worker.BackoffRetry(worker.BackoffConfig{
			MaxAttempts: 3,
			Initial:     100 * time.Millisecond,
		}, logger)),
		worker.WithListener(worker.Listener{
			OnStart: func(ctx context.Context) { logger.Info("worker started", zap.Strings("topics", topics)) },
			OnExit:  func(ctx context.Context) { logger.Info("worker stopped") },
			OnError: func(ctx context.Context, evt *worker.Event, err error) {
				logger.Warn("worker error", zap.Error(err))
			},
		}),
	)

	logReference := func(ctx context.Context, evt *worker.Event) error {
		event, err := push.NormalizeJSON(evt.Payload)
		if err != nil {
			return worker.Permanent(err)
		}
		fields := []zap.Field{
			zap.String("topic", evt.Topic),
			zap.String("delivery_id", evt.DeliveryID),
			zap.String("repository", event.RepositoryFullName()),
			zap.String("branch", event.BranchName()),
		}
		if taskID, ok := push.ExtractTaskID(event); ok {
			logger.Info("push references task", append(fields, zap.String("task_id", taskID))...)
			return nil
		}
		logger.Info("push without task reference", fields...)
		return nil
	}
	for _, topic := range topics {
		wk.HandleTopic(topic, logReference)
	}

	if err := wk.Run(ctx); err != nil {
		logger.Fatal("worker", zap.Error(err))
	}
}
