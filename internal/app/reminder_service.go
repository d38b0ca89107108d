package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"library_notification_bot/internal/domain/book"
	"library_notification_bot/internal/domain/dispatch"
	"library_notification_bot/internal/domain/urgency"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReminderJob is one pending reminder for a (book, user) key. The ID
// changes on every reschedule; an in-flight fire whose ID no longer
// matches the table entry is dropped.
type ReminderJob struct {
	ID        uuid.UUID
	BookID    string
	UserID    string
	BookTitle string
	UserName  string
	UserEmail string
	DueAt     time.Time
	FireAt    time.Time
}

type reminderKey struct {
	BookID string
	UserID string
}

// ReminderPolicy holds the cadence and delivery-retry knobs.
type ReminderPolicy struct {
	// FireHour is the local hour of day reminders go out.
	FireHour int
	// LeadOffsetsDays are the days before the due date a reminder
	// fires, most distant first. While overdue, reminders repeat daily.
	LeadOffsetsDays []int
	DispatchTimeout time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	MaxAttempts     int
}

func DefaultReminderPolicy() ReminderPolicy {
	return ReminderPolicy{
		FireHour:        10,
		LeadOffsetsDays: []int{3, 1, 0},
		DispatchTimeout: 5 * time.Second,
		BackoffBase:     30 * time.Second,
		BackoffCap:      time.Hour,
		MaxAttempts:     5,
	}
}

// ReminderService owns the reminder-job table. It is the only writer
// to job state; at most one job exists per (book, user) key at any
// time. Scheduling the same key again supersedes the previous job.
type ReminderService struct {
	mu   sync.Mutex
	jobs map[reminderKey]*ReminderJob

	dispatcher dispatch.Dispatcher
	guard      dispatch.Guard
	clock      Clock
	policy     ReminderPolicy
	logger     *logrus.Entry

	dispatchFailures atomic.Int64
}

func NewReminderService(
	dispatcher dispatch.Dispatcher,
	guard dispatch.Guard,
	clock Clock,
	policy ReminderPolicy,
	logger *logrus.Entry,
) *ReminderService {
	return &ReminderService{
		jobs:       make(map[reminderKey]*ReminderJob),
		dispatcher: dispatcher,
		guard:      guard,
		clock:      clock,
		policy:     policy,
		logger:     logger,
	}
}

// fireTime places a cadence point at FireHour local time on the given day.
func (s *ReminderService) fireTime(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.policy.FireHour, 0, 0, 0, day.Location())
}

// nextFireAt returns the earliest cadence point strictly after `after`:
// the configured lead offsets before the due date, then daily once the
// loan is overdue. There is always a next point, so overdue loans keep
// being reminded until the copy is returned.
func (s *ReminderService) nextFireAt(dueAt, after time.Time) time.Time {
	for _, offset := range s.policy.LeadOffsetsDays {
		t := s.fireTime(dueAt.AddDate(0, 0, -offset))
		if t.After(after) {
			return t
		}
	}
	// Past every lead point: daily cadence.
	next := s.fireTime(after)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Schedule creates the reminder job for a loan, superseding any
// existing job for the same (book, user) key. Idempotent: scheduling
// twice with the same due date leaves exactly one active job.
func (s *ReminderService) Schedule(bookID, bookTitle string, loan book.Loan) {
	now := s.clock.Now()
	job := &ReminderJob{
		ID:        uuid.New(),
		BookID:    bookID,
		UserID:    loan.UserID,
		BookTitle: bookTitle,
		UserName:  loan.UserName,
		UserEmail: loan.UserEmail,
		DueAt:     loan.DueAt,
		FireAt:    s.nextFireAt(loan.DueAt, now),
	}

	key := reminderKey{BookID: bookID, UserID: loan.UserID}
	s.mu.Lock()
	prev := s.jobs[key]
	s.jobs[key] = job
	s.mu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{
		"book_id": bookID,
		"user_id": loan.UserID,
		"due_at":  loan.DueAt.Format("2006-01-02"),
		"fire_at": job.FireAt.Format(time.RFC3339),
	})
	if prev != nil {
		entry.WithField("superseded_job", prev.ID).Info("Reminder rescheduled")
	} else {
		entry.Info("Reminder scheduled")
	}
}

// RestoreFromLedger rebuilds the job table from the durable loan
// state. The table lives in memory only, so a restarted process would
// otherwise hold no reminders for loans assigned before the restart.
// Called once at startup, before the cron ticker begins firing.
func (s *ReminderService) RestoreFromLedger(ctx context.Context, books book.Repository) error {
	records, err := books.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list books for reminder restore: %w", err)
	}

	restored := 0
	for _, rec := range records {
		for _, loan := range rec.Loans {
			s.Schedule(rec.ID, rec.Title, loan)
			restored++
		}
	}
	s.logger.WithField("jobs", restored).Info("Reminder jobs restored from loan ledger")
	return nil
}

// CancelAll drops any pending reminder for the key. A fire already in
// flight may still complete once, but no future fire will happen. Not
// an error if nothing was scheduled.
func (s *ReminderService) CancelAll(bookID, userID string) {
	key := reminderKey{BookID: bookID, UserID: userID}
	s.mu.Lock()
	_, existed := s.jobs[key]
	delete(s.jobs, key)
	s.mu.Unlock()

	if existed {
		s.logger.WithFields(logrus.Fields{
			"book_id": bookID,
			"user_id": userID,
		}).Info("Reminder canceled")
	}
}

// ActiveJob returns a copy of the pending job for the key, if any.
func (s *ReminderService) ActiveJob(bookID, userID string) (ReminderJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[reminderKey{BookID: bookID, UserID: userID}]; ok {
		return *job, true
	}
	return ReminderJob{}, false
}

// DispatchFailures reports how many reminders were dropped after
// exhausting delivery retries. Non-fatal; exposed for monitoring.
func (s *ReminderService) DispatchFailures() int64 {
	return s.dispatchFailures.Load()
}

// ProcessDueReminders fires every job whose fire time has passed. It
// is invoked by the cron tick and is the only path that dispatches.
func (s *ReminderService) ProcessDueReminders(ctx context.Context) error {
	now := s.clock.Now()

	s.mu.Lock()
	var due []ReminderJob
	for _, job := range s.jobs {
		if !job.FireAt.After(now) {
			due = append(due, *job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.fire(ctx, job)
	}
	return nil
}

// fire delivers one reminder and re-arms the job for its next cadence
// point. The job's identity is re-checked against the table both
// before dispatch and before re-arming, so a reschedule or cancel that
// raced the fire wins.
func (s *ReminderService) fire(ctx context.Context, job ReminderJob) {
	key := reminderKey{BookID: job.BookID, UserID: job.UserID}

	s.mu.Lock()
	current, ok := s.jobs[key]
	if !ok || current.ID != job.ID {
		s.mu.Unlock()
		return // superseded or canceled while queued
	}
	job = *current
	s.mu.Unlock()

	logEntry := s.logger.WithFields(logrus.Fields{
		"book_id": job.BookID,
		"user_id": job.UserID,
		"job_id":  job.ID,
	})

	guardKey := fmt.Sprintf("reminder:%s:%s:%d", job.BookID, job.UserID, job.FireAt.Unix())
	claimed, err := s.guard.Acquire(ctx, guardKey)
	if err != nil {
		logEntry.WithError(err).Error("Dispatch guard unavailable, skipping fire")
		return
	}
	if claimed {
		if err := s.dispatchWithRetry(ctx, job); err != nil {
			s.dispatchFailures.Add(1)
			logEntry.WithError(err).Error("Reminder delivery failed after all retries")
		}
	} else {
		logEntry.Debug("Fire already claimed by another instance")
	}

	// Re-arm only if the job was not superseded during dispatch.
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok = s.jobs[key]
	if !ok || current.ID != job.ID {
		return
	}
	current.FireAt = s.nextFireAt(current.DueAt, job.FireAt)
}

func (s *ReminderService) dispatchWithRetry(ctx context.Context, job ReminderJob) error {
	now := s.clock.Now()
	n := dispatch.Notification{
		UserID:    job.UserID,
		UserName:  job.UserName,
		UserEmail: job.UserEmail,
		BookID:    job.BookID,
		BookTitle: job.BookTitle,
		DueAt:     job.DueAt,
		Tier:      urgency.Classify(job.DueAt, now),
	}

	backoff := s.policy.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, s.policy.DispatchTimeout)
		lastErr = s.dispatcher.Send(sendCtx, n)
		cancel()
		if lastErr == nil {
			return nil
		}

		if attempt == s.policy.MaxAttempts {
			break
		}
		s.logger.WithError(lastErr).WithFields(logrus.Fields{
			"book_id": job.BookID,
			"user_id": job.UserID,
			"attempt": attempt,
			"backoff": backoff.String(),
		}).Warn("Reminder dispatch failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.policy.BackoffCap {
			backoff = s.policy.BackoffCap
		}
	}
	return lastErr
}
