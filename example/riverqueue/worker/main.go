package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskhooks/internal"
	"taskhooks/pkg/activity"
	"taskhooks/pkg/storage/gormstore"
	"taskhooks/pkg/worker"

	"github.com/riverqueue/river"
	"go.uber.org/zap"
)

// Runs push_delivery jobs outside the webhook server. Point the server at the
// same database with watermill.driver: riverqueue and worker.enabled: false.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	maxWorkers := flag.Int("max-workers", 0, "Override riverqueue.max_workers")
	flag.Parse()

	bootstrap, _ := zap.NewProduction()
	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		bootstrap.Fatal("load config", zap.Error(err))
	}
	if _, err := internal.SetupLogging(cfg.Log); err != nil {
		bootstrap.Fatal("setup logging", zap.Error(err))
	}
	logger := internal.NewLogger("riverqueue-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := gormstore.Open(gormstore.Config{
		Driver:      cfg.Storage.Driver,
		DSN:         cfg.Storage.DSN,
		Dialect:     cfg.Storage.Dialect,
		AutoMigrate: cfg.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	queueCfg := cfg.Watermill.RiverQueue
	if *maxWorkers > 0 {
		queueCfg.MaxWorkers = *maxWorkers
	}

	workers := river.NewWorkers()
	handler := worker.PushHandler(activity.NewProcessor(store, internal.NewLogger("activity")))
	worker.RegisterRiverWorkers(workers, handler, logger)

	queue, err := internal.NewRiverQueue(ctx, queueCfg, workers, logger)
	if err != nil {
		logger.Fatal("riverqueue", zap.Error(err))
	}
	defer queue.Close()

	if err := queue.Start(ctx); err != nil {
		logger.Fatal("river start", zap.Error(err))
	}
	logger.Info("river worker started", zap.String("queue", queueCfg.Queue), zap.Int("max_workers", queueCfg.MaxWorkers))

	<-ctx.Done()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := queue.Stop(stopCtx); err != nil {
		logger.Warn("river stop", zap.Error(err))
	}
}
