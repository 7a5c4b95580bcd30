package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/nav"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath  string
	TemplatesPath string
	AccountsPath  string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Navigation
	NavBase    string
	NavOffsets []int
	MinYear    int
	MaxYear    int

	// Accounting period
	FirstDay               int
	MinFirstDayAsNextMonth int

	// Month view cache
	CacheSize int
	CacheTTL  time.Duration

	// Background processing
	AutofillInterval time.Duration
	AutofillAhead    int
	SettleInterval   time.Duration

	// Write requests per minute per client
	RateLimit int

	LogLevel slog.Level
	LogJSON  bool

	// offsetsErr keeps a NAV_OFFSETS parse failure for Validate.
	offsetsErr error
}

func Load() *Config {
	cfg := &Config{
		Port:          getEnv("PORT", "8081"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/kakeibo.db"),
		TemplatesPath: getEnv("TEMPLATES_PATH", "./data/templates.json"),
		AccountsPath:  getEnv("ACCOUNTS_PATH", "./data/accounts.json"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "kakeibo"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "entry_changes"),

		NavBase: getEnv("NAV_BASE", "/income_and_expense"),
		MinYear: getEnvInt("MIN_YEAR", 2019),
		MaxYear: getEnvInt("MAX_YEAR", 2099),

		FirstDay:               getEnvInt("FIRST_DAY", core.DefaultFirstDay),
		MinFirstDayAsNextMonth: getEnvInt("MIN_FIRST_DAY_AS_NEXT_MONTH", core.DefaultMinFirstDayAsNextMonth),

		CacheSize: getEnvInt("CACHE_SIZE", 100),
		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),

		AutofillInterval: getEnvDuration("AUTOFILL_INTERVAL", time.Hour),
		AutofillAhead:    getEnvInt("AUTOFILL_AHEAD", 1),
		SettleInterval:   getEnvDuration("SETTLE_INTERVAL", time.Hour),

		RateLimit: getEnvInt("RATE_LIMIT", 60),

		LogLevel: getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		LogJSON:  strings.EqualFold(getEnv("LOG_FORMAT", "text"), "json"),
	}

	cfg.NavOffsets = nav.DefaultOffsets
	if v := os.Getenv("NAV_OFFSETS"); v != "" {
		offsets, err := nav.ParseOffsets(v)
		if err != nil {
			cfg.offsetsErr = err
		} else {
			cfg.NavOffsets = offsets
		}
	}

	return cfg
}

// Period returns the accounting period described by the configuration.
func (c *Config) Period() core.Period {
	return core.Period{FirstDay: c.FirstDay, MinFirstDayAsNextMonth: c.MinFirstDayAsNextMonth}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.offsetsErr != nil {
		errors = append(errors, fmt.Sprintf("invalid NAV_OFFSETS: %v", c.offsetsErr))
	} else if len(c.NavOffsets) == 0 {
		errors = append(errors, "navigation offsets cannot be empty")
	}
	if strings.TrimSuffix(c.NavBase, "/") == "" {
		errors = append(errors, "navigation base cannot be empty or '/'")
	} else if !strings.HasPrefix(c.NavBase, "/") {
		errors = append(errors, fmt.Sprintf("invalid navigation base '%s': must start with '/'", c.NavBase))
	}
	if c.MinYear > c.MaxYear {
		errors = append(errors, fmt.Sprintf("invalid year range %d..%d: min is after max", c.MinYear, c.MaxYear))
	}

	if err := c.Period().Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid accounting period: %v", err))
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}

	if c.AutofillInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid autofill interval %v: must be at least 1 minute", c.AutofillInterval))
	}
	if c.AutofillAhead < 0 || c.AutofillAhead > 12 {
		errors = append(errors, fmt.Sprintf("invalid autofill ahead %d: must be between 0 and 12", c.AutofillAhead))
	}
	if c.SettleInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid settle interval %v: must be at least 1 minute", c.SettleInterval))
	}
	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimit))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(value)); err == nil {
			return level
		}
	}
	return defaultValue
}
