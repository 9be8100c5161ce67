package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"subscan/internal/amqp"
	"subscan/internal/cache"
	"subscan/internal/cli"
	"subscan/internal/core"
	apphttp "subscan/internal/http"
	applog "subscan/internal/log"
	"subscan/internal/ports"
	"subscan/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	engine, err := cli.NewEngine(cfg.RulesFile)
	if err != nil {
		logger.Error("Failed to build detection engine", "error", err, "rules_file", cfg.RulesFile)
		os.Exit(1)
	}

	be, err := cli.OpenBackend(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to open data backend", "error", err)
		os.Exit(1)
	}

	subsCache := cache.NewLRUCache[[]core.DetectedSubscription](cfg.SubscriptionsCacheSize, cfg.SubscriptionsCacheTTL)
	caches := cache.NewManager()
	caches.Register(subsCache)
	caches.StartCleanup(10 * time.Minute)

	var (
		publisher ports.EventPublisher
		requester apphttp.ScanRequester
		amqpClient *amqp.Client
	)
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPScanQueue, cfg.AMQPEventsQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		publisher, requester = amqpClient, amqpClient
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	svc := services.NewScanService(engine, be.Store, publisher, subsCache, logger)

	opts := apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
		Requester:          requester,
		CacheStats:         subsCache.Stats,
	}
	if p, ok := be.Store.(interface{ Ping(context.Context) error }); ok {
		opts.Ready = p.Ping
	}
	srv := apphttp.NewServer(svc, opts)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeSubscriptionsReplaced(ctx, func(_ context.Context, msg *amqp.SubscriptionsReplacedMessage) error {
				svc.InvalidateSubscriptions(msg.UserID)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Subscriptions replaced consumer stopped", "error", err, "queue", cfg.AMQPEventsQueue)
			}
		}()
	}

	logger.Info("Starting subscan server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	<-done
	logger.Info("Server stopped gracefully")
}
