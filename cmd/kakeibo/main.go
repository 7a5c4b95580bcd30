package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"kakeibo/internal/cache"
	"kakeibo/internal/cli"
	"kakeibo/internal/core"
	apphttp "kakeibo/internal/http"
	applog "kakeibo/internal/log"
	"kakeibo/internal/nav"
	"kakeibo/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)
	cli.MustValidate(logger, cfg)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	if _, err := cli.SeedAccounts(context.Background(), logger, repo, cfg.AccountsPath); err != nil {
		logger.Error("Failed to seed accounts", applog.FieldError, err.Error(), "path", cfg.AccountsPath)
		os.Exit(1)
	}
	if _, err := cli.SeedTemplates(context.Background(), logger, repo, cfg.TemplatesPath); err != nil {
		logger.Error("Failed to seed templates", applog.FieldError, err.Error(), "path", cfg.TemplatesPath)
		os.Exit(1)
	}

	// Entry changes are published for kakeibo-worker when AMQP is configured.
	var pub services.Publisher
	if amqpClient := cli.InitAMQP(logger, cfg, false); amqpClient != nil {
		defer amqpClient.Close()
		pub = amqpClient
	}

	views := cache.NewLRUCache[core.CalendarMonth, core.MonthView](cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(views)
	cacheManager.StartCleanup(cfg.CacheTTL)
	defer cacheManager.Stop()

	ledger := services.NewLedgerService(repo, pub, services.Options{
		Period:  cfg.Period(),
		MinYear: cfg.MinYear,
		MaxYear: cfg.MaxYear,
		Cache:   views,
		Logger:  logger,
	})

	autofill := services.NewAutofillProcessor(ledger, cfg.Period(), services.AutofillProcessorConfig{
		PollInterval: cfg.AutofillInterval,
		Ahead:        cfg.AutofillAhead,
	}, logger)

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:      ":" + cfg.Port,
		Ledger:    ledger,
		DB:        repo,
		NavBase:   cfg.NavBase,
		Offsets:   cfg.NavOffsets,
		MinYear:   cfg.MinYear,
		MaxYear:   cfg.MaxYear,
		RateLimit: cfg.RateLimit,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create server", applog.FieldError, err.Error())
		os.Exit(1)
	}

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := autofill.Stop(shutdownCtx); err != nil {
			logger.Error("Autofill processor stop error", applog.FieldError, err.Error())
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err.Error())
		}
	})

	if err := autofill.Start(ctx); err != nil {
		logger.Error("Failed to start autofill processor", applog.FieldError, err.Error())
		os.Exit(1)
	}

	logger.Info("Starting kakeibo server",
		"port", cfg.Port,
		"nav_base", cfg.NavBase,
		"offsets", nav.FormatOffsets(cfg.NavOffsets),
		"first_day", cfg.FirstDay)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", applog.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
