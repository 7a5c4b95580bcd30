package main

import (
	"context"
	"errors"
	"time"

	"kakeibo/internal/cli"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
	"kakeibo/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	cli.MustValidate(logger, cfg)

	logger.Info("Starting kakeibo-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	amqpClient := cli.InitAMQP(logger, cfg, true)
	defer amqpClient.Close()

	// The worker keeps no month view cache; every settlement reads storage.
	ledger := services.NewLedgerService(repo, nil, services.Options{
		Period:  cfg.Period(),
		MinYear: cfg.MinYear,
		MaxYear: cfg.MaxYear,
		Logger:  logger,
	})
	settlements := worker.NewSettlementWorker(ledger, cfg.Period(), logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Performing startup settlement check...")
	if _, err := settlements.CloseFinishedMonth(ctx); err != nil {
		logger.Error("Startup settlement check failed", applog.FieldError, err.Error())
	}

	go func() {
		err := amqpClient.ConsumeEntryChanges(ctx, settlements.HandleEntryChanged)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err.Error())
		}
	}()

	ticker := time.NewTicker(cfg.SettleInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := settlements.CloseFinishedMonth(ctx); err != nil {
					logger.Error("Periodic settlement failed", applog.FieldError, err.Error())
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
