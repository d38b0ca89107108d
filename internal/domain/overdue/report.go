// Package overdue builds the ranked overdue report. It is a read-only
// scan over book snapshots and never mutates its input.
package overdue

import (
	"sort"
	"time"

	"library_notification_bot/internal/domain/book"
	"library_notification_bot/internal/domain/urgency"
)

// Entry is one overdue loan in the report. Derived on every pass,
// never persisted.
type Entry struct {
	BookID      string
	BookTitle   string
	UserID      string
	UserName    string
	DaysOverdue int
	Severity    urgency.Severity
}

// BuildReport scans all loans across all books and returns the overdue
// ones, most overdue first. Ties are broken by book id then user id so
// repeated passes over the same snapshot produce identical output.
func BuildReport(books []*book.Record, now time.Time) []Entry {
	var entries []Entry
	for _, rec := range books {
		for _, loan := range rec.Loans {
			d := urgency.DaysUntilDue(loan.DueAt, now)
			if d >= 0 {
				continue
			}
			entries = append(entries, Entry{
				BookID:      rec.ID,
				BookTitle:   rec.Title,
				UserID:      loan.UserID,
				UserName:    loan.UserName,
				DaysOverdue: -d,
				Severity:    urgency.ClassifySeverity(-d),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DaysOverdue != entries[j].DaysOverdue {
			return entries[i].DaysOverdue > entries[j].DaysOverdue
		}
		if entries[i].BookID != entries[j].BookID {
			return entries[i].BookID < entries[j].BookID
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}
