package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"taskhooks/internal"
	"taskhooks/pkg/activity"
	"taskhooks/pkg/api"
	ghprovider "taskhooks/pkg/providers/github"
	"taskhooks/pkg/storage/gormstore"
	"taskhooks/pkg/tasks"
	"taskhooks/pkg/webhook"
	"taskhooks/pkg/worker"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wmmiddleware "github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/riverqueue/river"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	bootstrap, _ := zap.NewProduction()
	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		bootstrap.Fatal("load config", zap.Error(err))
	}
	if _, err := internal.SetupLogging(config.Log); err != nil {
		bootstrap.Fatal("setup logging", zap.Error(err))
	}
	logger := internal.NewLogger("server")
	defer func() { _ = logger.Sync() }()

	if config.UsesDefaultSecret() {
		logger.Warn("github webhook secret not configured, using the development default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := gormstore.Open(gormstore.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	processor := activity.NewProcessor(store, internal.NewLogger("activity"))
	pushHandler := worker.PushHandler(processor)

	// Publisher and subscriber share one in-process channel.
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            config.Watermill.GoChannel.OutputChannelBuffer,
		Persistent:                     config.Watermill.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: config.Watermill.GoChannel.BlockPublishUntilSubscriberAck,
	}, internal.NewWatermillLogger(internal.NewLogger("gochannel")))
	internal.RegisterPublisherDriver("gochannel", func(internal.WatermillConfig, watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return pubSub, nil, nil
	})

	var publisherOpts []internal.PublisherOption
	if (usesDriver(config.Watermill, "riverqueue") || usesDriver(config.Watermill, "river")) && config.Worker.Enabled {
		workers := river.NewWorkers()
		worker.RegisterRiverWorkers(workers, pushHandler, internal.NewLogger("river"))
		queue, err := internal.NewRiverQueue(ctx, config.Watermill.RiverQueue, workers, internal.NewLogger("riverqueue"))
		if err != nil {
			logger.Fatal("riverqueue", zap.Error(err))
		}
		if err := queue.Start(ctx); err != nil {
			logger.Fatal("start riverqueue", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				logger.Warn("stop riverqueue", zap.Error(err))
			}
		}()
		publisherOpts = append(publisherOpts, internal.WithRiverQueue(queue))
	}

	publisher, err := internal.NewPublisher(config.Watermill, internal.NewLogger("publisher"), publisherOpts...)
	if err != nil {
		logger.Fatal("publisher", zap.Error(err))
	}
	defer publisher.Close()

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
	})
	if err != nil {
		logger.Fatal("compile rules", zap.Error(err))
	}

	ghHandler, err := webhook.NewGitHubHandler(webhook.GitHubConfig{
		Secret:       config.GitHub.WebhookSecret,
		Topic:        config.GitHub.Topic,
		MaxBody:      config.Server.MaxBodyBytes,
		ReplayWindow: time.Duration(config.GitHub.ReplayWindowMS) * time.Millisecond,
		DebugEvents:  config.GitHub.DebugEvents,
	}, ruleEngine, publisher, internal.NewLogger("webhook"))
	if err != nil {
		logger.Fatal("github handler", zap.Error(err))
	}

	creatorOpts := []tasks.CreatorOption{tasks.WithLogger(internal.NewLogger("tasks"))}
	if config.GitHub.IssuesEnabled() {
		issues, err := ghprovider.NewIssueClient(ghprovider.Config{
			Token:   config.GitHub.Token,
			BaseURL: config.GitHub.BaseURL,
			App: ghprovider.AppConfig{
				AppID:          config.GitHub.AppID,
				PrivateKeyPath: config.GitHub.PrivateKeyPath,
				PrivateKey:     config.GitHub.PrivateKey,
			},
		}, internal.NewLogger("github"))
		if err != nil {
			logger.Fatal("github issue client", zap.Error(err))
		}
		creatorOpts = append(creatorOpts, tasks.WithIssueCreator(issues))
	}
	creator := tasks.NewCreator(store, creatorOpts...)

	apiServer := api.NewServer(store, creator, internal.NewLogger("api"), api.WithPrefix(config.Server.APIPrefix))
	router := apiServer.Routes()

	router.Handle(config.GitHub.Path, ghHandler)
	if config.Server.MetricsEnabled {
		router.Handle(config.Server.MetricsPath, expvar.Handler())
	}
	logger.Info("github webhook enabled", zap.String("path", config.GitHub.Path))

	if config.Worker.Enabled {
		subCfg := worker.SubscriberConfigFromWatermill(config.Watermill)
		subCfg.PubSub = pubSub
		if subCfg.Enabled() {
			topics := config.Worker.Topics
			if ruleTopics := worker.TopicsFromRules(config.Rules); len(ruleTopics) > 0 {
				topics = ruleTopics
			}
			wk, err := worker.NewFromConfig(subCfg, internal.NewLogger("worker"),
				worker.WithTopics(topics...),
				worker.WithConcurrency(config.Worker.Concurrency),
				worker.WithRetry(worker.AckOnError{}),
				worker.WithMiddleware(
					worker.MiddlewareFromWatermill(wmmiddleware.Recoverer),
					worker.BackoffRetry(worker.BackoffConfig{
						MaxAttempts: config.Worker.RetryMaxAttempts,
						Initial:     time.Duration(config.Worker.RetryInitialMS) * time.Millisecond,
						Max:         time.Duration(config.Worker.RetryMaxMS) * time.Millisecond,
					}, internal.NewLogger("worker")),
				),
			)
			if err != nil {
				logger.Fatal("worker", zap.Error(err))
			}
			for _, topic := range topics {
				wk.HandleTopic(topic, pushHandler)
			}
			go func() {
				if err := wk.Run(ctx); err != nil {
					logger.Error("worker stopped", zap.Error(err))
				}
			}()
			defer wk.Close()
		}
	}

	var handler http.Handler = router
	if config.Server.RateLimitRPS > 0 {
		handler = internal.NewRateLimitHandler(handler, config.Server.RateLimitRPS, config.Server.RateLimitBurst, 0)
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func usesDriver(cfg internal.WatermillConfig, name string) bool {
	drivers := cfg.Drivers
	if len(drivers) == 0 {
		drivers = []string{cfg.Driver}
	}
	for _, driver := range drivers {
		if strings.EqualFold(strings.TrimSpace(driver), name) {
			return true
		}
	}
	return false
}
