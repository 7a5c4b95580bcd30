// Package cli provides common CLI initialization utilities shared by
// cmd/kakeibo and cmd/kakeibo-worker.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kakeibo/internal/amqp"
	"kakeibo/internal/config"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/storage"
)

// SetupLogger builds the process logger from cfg and installs it as the
// slog default.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     cfg.LogLevel,
		Component: component,
		JSON:      cfg.LogJSON,
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads configuration from the environment. Validation happens
// once a logger exists, see MustValidate.
func LoadConfig() *config.Config {
	return config.Load()
}

// MustValidate exits the process when cfg is invalid.
func MustValidate(logger *applog.Logger, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err.Error())
		os.Exit(1)
	}
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *applog.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err.Error(), "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// InitAMQP connects to the broker when an URL is configured. It returns nil
// when AMQP is disabled or unreachable and required is false.
func InitAMQP(logger *applog.Logger, cfg *config.Config, required bool) *amqp.Client {
	if cfg.AMQPURL == "" {
		if required {
			logger.Error("AMQP_URL is required")
			os.Exit(1)
		}
		logger.Info("AMQP disabled - entry changes will not be published")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		if required {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err.Error())
			os.Exit(1)
		}
		logger.Warn("Failed to initialize AMQP client, continuing without events", applog.FieldError, err.Error())
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// templateSeed is one entry of a template seed file.
type templateSeed struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	PayDay    int    `json:"pay_day"`
	PeriodDay int    `json:"period_day"`
	Method    string `json:"method"`
	Amount    string `json:"amount"`
	State     int    `json:"state"`
	Months    []int  `json:"months"`
}

// TemplateCreator stores templates.
type TemplateCreator interface {
	CreateTemplate(ctx context.Context, t core.Template) (int64, error)
}

// SeedTemplates loads the JSON template list at path into repo. Templates
// whose names already exist are left alone. A missing file is not an error.
func SeedTemplates(ctx context.Context, logger *applog.Logger, repo TemplateCreator, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("No template seed file", "path", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read template seed: %w", err)
	}

	var seeds []templateSeed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("parse template seed %s: %w", path, err)
	}

	created := 0
	for i, s := range seeds {
		kind, err := core.ParseEntryKind(s.Kind)
		if err != nil {
			return created, fmt.Errorf("template %d (%q): %w", i, s.Name, err)
		}
		amount, err := core.ParseYen(s.Amount)
		if err != nil {
			return created, fmt.Errorf("template %d (%q): %w", i, s.Name, err)
		}
		t := core.Template{
			Kind:      kind,
			Name:      s.Name,
			PayDay:    s.PayDay,
			PeriodDay: s.PeriodDay,
			Method:    s.Method,
			Amount:    amount,
			State:     core.State(s.State),
			Months:    s.Months,
		}
		if err := t.Validate(); err != nil {
			return created, fmt.Errorf("template %d (%q): %w", i, s.Name, err)
		}
		if _, err := repo.CreateTemplate(ctx, t); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return created, fmt.Errorf("store template %q: %w", s.Name, err)
		}
		created++
	}
	logger.Info("Templates seeded", "path", path, "created", created, "total", len(seeds))
	return created, nil
}

// accountSeed is one account of an account seed file with the payment
// methods drawing from it.
type accountSeed struct {
	Bank    string   `json:"bank"`
	Owner   string   `json:"owner"`
	Balance string   `json:"balance"`
	Methods []string `json:"methods"`
}

// AccountCreator stores accounts and payment methods.
type AccountCreator interface {
	CreateAccount(ctx context.Context, a core.Account) (int64, error)
	ListAccounts(ctx context.Context) ([]core.Account, error)
	CreateMethod(ctx context.Context, m core.Method) (int64, error)
}

// SeedAccounts loads the JSON account list at path into repo. Existing
// accounts keep their recorded balance; missing methods are still added.
// A missing file is not an error.
func SeedAccounts(ctx context.Context, logger *applog.Logger, repo AccountCreator, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("No account seed file", "path", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read account seed: %w", err)
	}

	var seeds []accountSeed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("parse account seed %s: %w", path, err)
	}

	existing, err := repo.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	ids := make(map[string]int64, len(existing))
	for _, a := range existing {
		ids[a.Bank+"\x00"+a.Owner] = a.ID
	}

	created := 0
	for i, s := range seeds {
		a := core.Account{Bank: s.Bank, Owner: s.Owner}
		if s.Balance != "" {
			if a.Balance, err = core.ParseBalance(s.Balance); err != nil {
				return created, fmt.Errorf("account %d (%q): %w", i, a.Name(), err)
			}
		}
		if err := a.Validate(); err != nil {
			return created, fmt.Errorf("account %d (%q): %w", i, a.Name(), err)
		}

		key := a.Bank + "\x00" + a.Owner
		id, ok := ids[key]
		if !ok {
			if id, err = repo.CreateAccount(ctx, a); err != nil {
				return created, fmt.Errorf("store account %q: %w", a.Name(), err)
			}
			ids[key] = id
			created++
		}

		for _, name := range s.Methods {
			m := core.Method{Name: name, AccountID: id}
			if err := m.Validate(); err != nil {
				return created, fmt.Errorf("method %q of %q: %w", name, a.Name(), err)
			}
			if _, err := repo.CreateMethod(ctx, m); err != nil && !errors.Is(err, storage.ErrConflict) {
				return created, fmt.Errorf("store method %q: %w", name, err)
			}
		}
	}
	logger.Info("Accounts seeded", "path", path, "created", created, "total", len(seeds))
	return created, nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
