package main

import (
	"context"
	"errors"
	"os"
	"time"

	"subscan/internal/amqp"
	"subscan/internal/cli"
	"subscan/internal/config"
	applog "subscan/internal/log"
	"subscan/internal/ports"
	"subscan/internal/services"
	gsheet "subscan/internal/sheets/google"
	"subscan/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting scan-worker")
	cfg := cli.LoadAndValidateConfig(logger)

	if !cfg.AMQPEnabled() {
		logger.Error("scan-worker needs AMQP_URL")
		return 1
	}

	engine, err := cli.NewEngine(cfg.RulesFile)
	if err != nil {
		logger.Error("Failed to build detection engine", "error", err, "rules_file", cfg.RulesFile)
		return 1
	}

	be, err := cli.OpenBackend(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to open data backend", "error", err)
		return 1
	}
	defer func() { _ = be.Cleanup() }()

	mirror, err := newMirror(cfg)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets mirror", "error", err)
		return 1
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPScanQueue, cfg.AMQPEventsQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		return 1
	}
	defer amqpClient.Close()

	// no read cache in the worker
	svc := services.NewScanService(engine, be.Store, amqpClient, nil, logger)
	scanWorker := worker.NewScanWorker(svc, mirror, be.Store)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	logger.Info("Performing startup mirror...")
	if err := scanWorker.StartupMirror(runCtx); err != nil {
		logger.Error("Startup mirror failed", "error", err)
	}

	scheduler := services.NewRescanScheduler(be.Store, scanWorker, services.RescanSchedulerConfig{
		Interval:    cfg.RescanInterval,
		Concurrency: cfg.RescanConcurrency,
	})
	go func() {
		if err := scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Rescan scheduler stopped", "error", err)
		}
	}()

	go func() {
		err := amqpClient.ConsumeScanRequests(runCtx, scanWorker.HandleScanRequest)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
		stop()
	}()

	<-runCtx.Done()
	if ctx.Err() == nil {
		logger.Error("Worker stopped without a shutdown signal")
		return 1
	}
	<-done
	logger.Info("Worker shutdown complete")
	return 0
}

// newMirror returns nil when no spreadsheet is configured
func newMirror(cfg *config.Config) (ports.SubscriptionMirror, error) {
	if !cfg.SheetsMirrorEnabled() {
		return nil, nil
	}
	client, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSubscriptionsSheet,
		CredentialsFile: cfg.GoogleCredentialsFile,
		CredentialsJSON: cfg.GoogleCredentialsJSON,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
