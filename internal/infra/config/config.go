package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	TelegramToken string
	DatabaseURL   string
	RedisAddr     string // empty disables the cross-instance dispatch guard
	AdminChatID   int64

	LogLevel    string
	Environment string

	// Cron specs driving the reminder engine.
	CronSpecReminderCheck string
	CronSpecOverdueReport string

	// Loan policy.
	MaxLoanDays int

	// Reminder delivery policy.
	ReminderFireHour    int
	DispatchTimeout     time.Duration
	DispatchBackoffBase time.Duration
	DispatchBackoffCap  time.Duration
	DispatchMaxAttempts int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR") // optional

	adminIDStr := os.Getenv("ADMIN_CHAT_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_CHAT_ID is not set")
	}
	cfg.AdminChatID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_CHAT_ID: %w", err)
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.CronSpecReminderCheck = os.Getenv("CRON_SPEC_REMINDER_CHECK")
	if cfg.CronSpecReminderCheck == "" {
		cfg.CronSpecReminderCheck = "*/5 * * * *" // Default: every 5 minutes
	}

	cfg.CronSpecOverdueReport = os.Getenv("CRON_SPEC_OVERDUE_REPORT")
	if cfg.CronSpecOverdueReport == "" {
		cfg.CronSpecOverdueReport = "0 9 * * *" // Default: 9 AM daily
	}

	cfg.MaxLoanDays, err = intEnv("MAX_LOAN_DAYS", 30)
	if err != nil {
		return nil, err
	}
	if cfg.MaxLoanDays <= 0 {
		return nil, fmt.Errorf("MAX_LOAN_DAYS must be positive, got %d", cfg.MaxLoanDays)
	}

	cfg.ReminderFireHour, err = intEnv("REMINDER_FIRE_HOUR", 10)
	if err != nil {
		return nil, err
	}
	if cfg.ReminderFireHour < 0 || cfg.ReminderFireHour > 23 {
		return nil, fmt.Errorf("REMINDER_FIRE_HOUR must be between 0 and 23, got %d", cfg.ReminderFireHour)
	}

	cfg.DispatchTimeout, err = durationEnv("DISPATCH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DispatchBackoffBase, err = durationEnv("DISPATCH_BACKOFF_BASE", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DispatchBackoffCap, err = durationEnv("DISPATCH_BACKOFF_CAP", time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.DispatchMaxAttempts, err = intEnv("DISPATCH_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
