package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"library_notification_bot/internal/domain/book"
	"library_notification_bot/internal/domain/dispatch"
	"library_notification_bot/internal/domain/urgency"
	idb "library_notification_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	sent     []dispatch.Notification
	failures int // fail this many sends before succeeding
}

func (d *fakeDispatcher) Send(_ context.Context, n dispatch.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return errors.New("channel unavailable")
	}
	d.sent = append(d.sent, n)
	return nil
}

func (d *fakeDispatcher) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type allowAllGuard struct{}

func (allowAllGuard) Acquire(context.Context, string) (bool, error) { return true, nil }

type denyAllGuard struct{}

func (denyAllGuard) Acquire(context.Context, string) (bool, error) { return false, nil }

func testPolicy() ReminderPolicy {
	p := DefaultReminderPolicy()
	p.DispatchTimeout = 100 * time.Millisecond
	p.BackoffBase = time.Millisecond
	p.BackoffCap = 4 * time.Millisecond
	return p
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("component", "test")
}

// baseTime is a morning before the 10:00 fire hour.
var baseTime = time.Date(2025, 6, 10, 8, 0, 0, 0, time.Local)

func testLoan(userID string, dueAt time.Time) book.Loan {
	return book.Loan{
		UserID:    userID,
		UserName:  "User " + userID,
		UserEmail: userID + "@example.com",
		DueAt:     dueAt,
	}
}

func newTestReminderService(d dispatch.Dispatcher, g dispatch.Guard, c Clock) *ReminderService {
	return NewReminderService(d, g, c, testPolicy(), testLogger())
}

func TestSchedule_SetsFireAtFromCadence(t *testing.T) {
	clock := newFakeClock(baseTime)
	svc := newTestReminderService(&fakeDispatcher{}, allowAllGuard{}, clock)

	cases := []struct {
		name       string
		dueOffset  int // days from baseTime
		wantFireAt time.Time
	}{
		{"far out fires three days ahead of due", 10, time.Date(2025, 6, 17, 10, 0, 0, 0, time.Local)},
		{"due tomorrow fires today", 1, time.Date(2025, 6, 10, 10, 0, 0, 0, time.Local)},
		{"due today fires today", 0, time.Date(2025, 6, 10, 10, 0, 0, 0, time.Local)},
		{"already overdue fires today", -5, time.Date(2025, 6, 10, 10, 0, 0, 0, time.Local)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc.Schedule("b1", "Title", testLoan("u1", baseTime.AddDate(0, 0, tc.dueOffset)))
			job, ok := svc.ActiveJob("b1", "u1")
			require.True(t, ok)
			assert.Equal(t, tc.wantFireAt, job.FireAt)
		})
	}
}

func TestSchedule_SupersedesPreviousJob(t *testing.T) {
	clock := newFakeClock(baseTime)
	svc := newTestReminderService(&fakeDispatcher{}, allowAllGuard{}, clock)

	due := baseTime.AddDate(0, 0, 5)
	svc.Schedule("b1", "Title", testLoan("u1", due))
	first, ok := svc.ActiveJob("b1", "u1")
	require.True(t, ok)

	// Rescheduling with the same date is idempotent: still exactly one
	// job for the key, with a fresh identity.
	svc.Schedule("b1", "Title", testLoan("u1", due))
	second, ok := svc.ActiveJob("b1", "u1")
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.FireAt, second.FireAt)

	// Moving the due date moves the fire time.
	newDue := baseTime.AddDate(0, 0, 20)
	svc.Schedule("b1", "Title", testLoan("u1", newDue))
	third, ok := svc.ActiveJob("b1", "u1")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 27, 10, 0, 0, 0, time.Local), third.FireAt)
}

func TestCancelAll_DropsPendingJob(t *testing.T) {
	clock := newFakeClock(baseTime)
	dispatcher := &fakeDispatcher{}
	svc := newTestReminderService(dispatcher, allowAllGuard{}, clock)

	svc.Schedule("b1", "Title", testLoan("u1", baseTime))
	svc.CancelAll("b1", "u1")
	_, ok := svc.ActiveJob("b1", "u1")
	assert.False(t, ok)

	// No future fire for the key.
	clock.Advance(6 * time.Hour)
	require.NoError(t, svc.ProcessDueReminders(context.Background()))
	assert.Zero(t, dispatcher.sentCount())

	// Canceling a key with no job is not an error.
	svc.CancelAll("b1", "u1")
	svc.CancelAll("never", "seen")
}

func TestProcessDueReminders_FiresAndReArms(t *testing.T) {
	clock := newFakeClock(baseTime)
	dispatcher := &fakeDispatcher{}
	svc := newTestReminderService(dispatcher, allowAllGuard{}, clock)

	due := time.Date(2025, 6, 10, 23, 59, 0, 0, time.Local)
	svc.Schedule("b1", "The Trial", testLoan("u1", due))

	// Before the fire hour nothing happens.
	require.NoError(t, svc.ProcessDueReminders(context.Background()))
	assert.Zero(t, dispatcher.sentCount())

	clock.Advance(3 * time.Hour) // 11:00
	require.NoError(t, svc.ProcessDueReminders(context.Background()))
	require.Equal(t, 1, dispatcher.sentCount())

	n := dispatcher.sent[0]
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, "The Trial", n.BookTitle)
	assert.Equal(t, urgency.TierDueToday, n.Tier)

	// Re-armed for the next day's cadence point, same job identity.
	job, ok := svc.ActiveJob("b1", "u1")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 11, 10, 0, 0, 0, time.Local), job.FireAt)

	// Running again before the new fire time sends nothing more.
	require.NoError(t, svc.ProcessDueReminders(context.Background()))
	assert.Equal(t, 1, dispatcher.sentCount())
}

func TestProcessDueReminders_OverdueRepeatsDaily(t *testing.T) {
	clock := newFakeClock(baseTime) // 08:00, fire hour is 10:00
	dispatcher := &fakeDispatcher{}
	svc := newTestReminderService(dispatcher, allowAllGuard{}, clock)

	svc.Schedule("b1", "Title", testLoan("u1", baseTime.AddDate(0, 0, -10)))

	for day := 0; day < 3; day++ {
		clock.Advance(24 * time.Hour)
		require.NoError(t, svc.ProcessDueReminders(context.Background()))
	}
	assert.Equal(t, 3, dispatcher.sentCount())
	assert.Equal(t, urgency.TierCritical, dispatcher.sent[0].Tier)
}

func TestFire_GuardDeniedStillAdvancesCadence(t *testing.T) {
	clock := newFakeClock(baseTime)
	dispatcher := &fakeDispatcher{}
	svc := newTestReminderService(dispatcher, denyAllGuard{}, clock)

	svc.Schedule("b1", "Title", testLoan("u1", baseTime.AddDate(0, 0, -1)))
	clock.Advance(3 * time.Hour) // past the 10:00 fire point
	require.NoError(t, svc.ProcessDueReminders(context.Background()))

	// Another instance claimed the fire: nothing sent here, but the job
	// moves on to its next cadence point instead of refiring forever.
	assert.Zero(t, dispatcher.sentCount())
	job, ok := svc.ActiveJob("b1", "u1")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 11, 10, 0, 0, 0, time.Local), job.FireAt)
}

func TestDispatchRetry_EventualSuccess(t *testing.T) {
	clock := newFakeClock(baseTime)
	dispatcher := &fakeDispatcher{failures: 2}
	svc := newTestReminderService(dispatcher, allowAllGuard{}, clock)

	svc.Schedule("b1", "Title", testLoan("u1", baseTime))
	clock.Advance(3 * time.Hour)
	require.NoError(t, svc.ProcessDueReminders(context.Background()))

	assert.Equal(t, 1, dispatcher.sentCount())
	assert.Zero(t, svc.DispatchFailures())
}

func TestDispatchRetry_ExhaustionIsNonFatal(t *testing.T) {
	clock := newFakeClock(baseTime)
	dispatcher := &fakeDispatcher{failures: 100}
	svc := newTestReminderService(dispatcher, allowAllGuard{}, clock)

	svc.Schedule("b1", "Title", testLoan("u1", baseTime))
	clock.Advance(3 * time.Hour)
	require.NoError(t, svc.ProcessDueReminders(context.Background()))

	assert.Zero(t, dispatcher.sentCount())
	assert.Equal(t, int64(1), svc.DispatchFailures())

	// The job survives and is re-armed for the next cadence point.
	job, ok := svc.ActiveJob("b1", "u1")
	require.True(t, ok)
	assert.True(t, job.FireAt.After(clock.Now()))
}

func TestRestoreFromLedger_RebuildsJobsAfterRestart(t *testing.T) {
	// Loans persisted by a previous process; the job table starts empty.
	repo := idb.NewMemoryBookRepository()
	require.NoError(t, repo.Create(context.Background(), &book.Record{
		ID:          "b1",
		Title:       "Dune",
		Author:      "Frank Herbert",
		TotalCopies: 2,
		Loans: []book.Loan{
			testLoan("u1", baseTime.AddDate(0, 0, 1)),
			testLoan("u2", baseTime.AddDate(0, 0, 14)),
		},
	}))
	require.NoError(t, repo.Create(context.Background(), &book.Record{
		ID:          "b2",
		Title:       "Solaris",
		Author:      "Stanisław Lem",
		TotalCopies: 1,
	}))

	clock := newFakeClock(baseTime)
	dispatcher := &fakeDispatcher{}
	svc := newTestReminderService(dispatcher, allowAllGuard{}, clock)
	require.NoError(t, svc.RestoreFromLedger(context.Background(), repo))

	_, ok := svc.ActiveJob("b1", "u1")
	assert.True(t, ok)
	_, ok = svc.ActiveJob("b1", "u2")
	assert.True(t, ok)
	_, ok = svc.ActiveJob("b2", "u1")
	assert.False(t, ok)

	// The near-due loan fires on the next tick as if there had been no
	// restart; the far-out one stays quiet until its lead point.
	clock.Advance(3 * time.Hour)
	require.NoError(t, svc.ProcessDueReminders(context.Background()))
	require.Equal(t, 1, dispatcher.sentCount())
	assert.Equal(t, "u1", dispatcher.sent[0].UserID)
	assert.Equal(t, "Dune", dispatcher.sent[0].BookTitle)
}
