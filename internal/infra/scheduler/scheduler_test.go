package scheduler

import (
	"context"
	"testing"
	"time"

	"library_notification_bot/internal/app"
	"library_notification_bot/internal/domain/book"
	idb "library_notification_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type noopScheduler struct{}

func (noopScheduler) Schedule(string, string, book.Loan) {}
func (noopScheduler) CancelAll(string, string)           {}

type recordingDigest struct {
	chatID int64
	texts  []string
}

func (r *recordingDigest) SendText(chatID int64, text string) error {
	r.chatID = chatID
	r.texts = append(r.texts, text)
	return nil
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("component", "test")
}

func TestSendOverdueDigest(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.Local)
	repo := idb.NewMemoryBookRepository()
	loans := app.NewLoanService(repo, noopScheduler{}, book.DefaultPolicy(), fixedClock{t: now}, quietLogger())

	rec := &book.Record{ID: "b1", Title: "Dune", TotalCopies: 1, Loans: []book.Loan{{
		UserID:   "101",
		UserName: "Alice",
		DueAt:    now.AddDate(0, 0, -8),
	}}}
	require.NoError(t, repo.Create(context.Background(), rec))

	digest := &recordingDigest{}
	ticker := NewReminderTicker(nil, loans, digest, 42, quietLogger(), "*/5 * * * *", "0 9 * * *")

	require.NoError(t, ticker.sendOverdueDigest(context.Background()))
	require.Len(t, digest.texts, 1)
	assert.Equal(t, int64(42), digest.chatID)
	assert.Contains(t, digest.texts[0], "Overdue loans: 1")
	assert.Contains(t, digest.texts[0], "Dune")
	assert.Contains(t, digest.texts[0], "8 day(s) overdue")
	assert.Contains(t, digest.texts[0], "LATE")
}

func TestSendOverdueDigest_SkippedWhenNothingOverdue(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.Local)
	repo := idb.NewMemoryBookRepository()
	loans := app.NewLoanService(repo, noopScheduler{}, book.DefaultPolicy(), fixedClock{t: now}, quietLogger())

	digest := &recordingDigest{}
	ticker := NewReminderTicker(nil, loans, digest, 42, quietLogger(), "*/5 * * * *", "0 9 * * *")

	require.NoError(t, ticker.sendOverdueDigest(context.Background()))
	assert.Empty(t, digest.texts)
}
