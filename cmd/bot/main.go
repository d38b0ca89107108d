package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"library_notification_bot/internal/app"
	"library_notification_bot/internal/domain/book"
	"library_notification_bot/internal/domain/dispatch"
	"library_notification_bot/internal/infra/cache"
	"library_notification_bot/internal/infra/config"
	idb "library_notification_bot/internal/infra/database"
	"library_notification_bot/internal/infra/logger"
	"library_notification_bot/internal/infra/scheduler"
	"library_notification_bot/internal/infra/telegram"

	"github.com/redis/go-redis/v9"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Library Notification Bot starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Get().WithField("component", "main")
	mainLogger.Infof("Configuration loaded. LogLevel: %s, Environment: %s, Admin chat: %d", cfg.LogLevel, cfg.Environment, cfg.AdminChatID)

	// Database connection and book repository
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully.")

	bookRepo := idb.NewPostgresBookRepository(db)
	mainLogger.Info("Book repository initialized.")

	// Dispatch guard: redis when configured, single-instance noop otherwise
	var guard dispatch.Guard = cache.NoopGuard{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to redis")
		}
		defer redisClient.Close()
		guard = cache.NewRedisGuard(redisClient)
		mainLogger.Info("Redis dispatch guard initialized.")
	}

	// Telegram bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Get().WithField("component", "telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID).WithField("chat_id", c.Chat().ID)
			}
			entry.Error("Telegram error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}
	telebotAdapter := telegram.NewTelebotAdapter(bot)

	// Reminder engine
	clock := app.SystemClock{}
	reminderPolicy := app.ReminderPolicy{
		FireHour:        cfg.ReminderFireHour,
		LeadOffsetsDays: []int{3, 1, 0},
		DispatchTimeout: cfg.DispatchTimeout,
		BackoffBase:     cfg.DispatchBackoffBase,
		BackoffCap:      cfg.DispatchBackoffCap,
		MaxAttempts:     cfg.DispatchMaxAttempts,
	}
	reminderService := app.NewReminderService(
		telebotAdapter,
		guard,
		clock,
		reminderPolicy,
		logger.Get().WithField("component", "reminders"),
	)
	mainLogger.Info("Reminder service initialized.")

	// The job table is in-memory: rebuild it from the persisted loans
	// before the ticker starts, or reminders for existing loans are lost
	// across restarts.
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reminderService.RestoreFromLedger(restoreCtx, bookRepo); err != nil {
		cancelRestore()
		mainLogger.WithError(err).Fatal("Could not restore reminder jobs from the loan ledger")
	}
	cancelRestore()

	loanService := app.NewLoanService(
		bookRepo,
		reminderService,
		book.Policy{MaxLoanDays: cfg.MaxLoanDays},
		clock,
		logger.Get().WithField("component", "loans"),
	)
	mainLogger.Info("Loan service initialized.")

	ticker := scheduler.NewReminderTicker(
		reminderService,
		loanService,
		telebotAdapter,
		cfg.AdminChatID,
		logger.Get().WithField("component", "scheduler"),
		cfg.CronSpecReminderCheck,
		cfg.CronSpecOverdueReport,
	)
	if err := ticker.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start reminder ticker")
	}

	// Register librarian command handlers
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())
	defer cancelHandlers()
	telegram.RegisterAdminHandlers(handlerCtx, bot, loanService, cfg.AdminChatID, logger.Get().WithField("component", "telegram"))
	mainLogger.Info("Admin command handlers registered.")

	mainLogger.Info("Application setup complete. Bot and scheduler are starting...")

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	ticker.Stop()
	bot.Stop()
	mainLogger.Info("Application shut down gracefully.")
}
