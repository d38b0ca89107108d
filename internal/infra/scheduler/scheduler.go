package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"library_notification_bot/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DigestSender delivers the rendered overdue digest to the admin chat.
type DigestSender interface {
	SendText(recipientChatID int64, text string) error
}

// ReminderTicker drives the time-based side of the reminder engine:
// a frequent tick that fires due reminder jobs and a daily job that
// sends the overdue digest to the administrator.
type ReminderTicker struct {
	cronEngine            *cron.Cron
	reminders             *app.ReminderService
	loans                 *app.LoanService
	digest                DigestSender
	adminChatID           int64
	logger                *logrus.Entry
	cronSpecReminderCheck string
	cronSpecOverdueReport string
}

func NewReminderTicker(
	reminders *app.ReminderService,
	loans *app.LoanService,
	digest DigestSender,
	adminChatID int64,
	logger *logrus.Entry,
	cronSpecReminderCheck string, // e.g., "*/5 * * * *" (every 5 minutes)
	cronSpecOverdueReport string, // e.g., "0 9 * * *" (9 AM daily)
) *ReminderTicker {
	return &ReminderTicker{
		cronEngine:            cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		reminders:             reminders,
		loans:                 loans,
		digest:                digest,
		adminChatID:           adminChatID,
		logger:                logger,
		cronSpecReminderCheck: cronSpecReminderCheck,
		cronSpecOverdueReport: cronSpecOverdueReport,
	}
}

func (t *ReminderTicker) Start() error {
	t.logger.Info("Starting reminder ticker...")

	_, err := t.cronEngine.AddFunc(t.cronSpecReminderCheck, func() {
		t.logger.Debug("Cron tick: processing due reminders")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := t.reminders.ProcessDueReminders(ctx); err != nil {
			t.logger.WithError(err).Error("Error during due reminder processing")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add reminder check cron job: %w", err)
	}

	_, err = t.cronEngine.AddFunc(t.cronSpecOverdueReport, func() {
		t.logger.Info("Cron tick: building overdue digest")
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if err := t.sendOverdueDigest(ctx); err != nil {
			t.logger.WithError(err).Error("Error during overdue digest")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add overdue report cron job: %w", err)
	}

	t.cronEngine.Start()
	t.logger.Info("Reminder ticker started with jobs.")
	return nil
}

func (t *ReminderTicker) sendOverdueDigest(ctx context.Context) error {
	entries, err := t.loans.BuildOverdueReport(ctx)
	if err != nil {
		return fmt.Errorf("failed to build overdue report: %w", err)
	}
	if len(entries) == 0 {
		t.logger.Info("No overdue loans, skipping digest")
		return nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Overdue loans: %d\n", len(entries)))
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("[%s] %q held by %s: %d day(s) overdue\n",
			e.Severity, e.BookTitle, e.UserName, e.DaysOverdue))
	}

	if err := t.digest.SendText(t.adminChatID, b.String()); err != nil {
		return fmt.Errorf("failed to send overdue digest: %w", err)
	}
	t.logger.WithField("entries", len(entries)).Info("Overdue digest sent")
	return nil
}

func (t *ReminderTicker) Stop() {
	t.logger.Info("Stopping reminder ticker...")
	ctx := t.cronEngine.Stop() // Stops new runs, waits for running jobs.
	<-ctx.Done()
	t.logger.Info("Reminder ticker gracefully stopped.")
}
