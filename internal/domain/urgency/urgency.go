// Package urgency classifies loans by how close they are to their due
// date. Everything here is a pure function of (dueAt, now); the clock
// is always passed in.
package urgency

import "time"

// Tier is the notification urgency of a loan. Higher values are more
// severe; the ordering is monotonic in how overdue the loan is.
type Tier int

const (
	TierInfo Tier = iota // more than NotifyLeadDays out, not notified
	TierUpcoming
	TierDueToday
	TierUrgent
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierInfo:
		return "INFO"
	case TierUpcoming:
		return "UPCOMING"
	case TierDueToday:
		return "DUE_TODAY"
	case TierUrgent:
		return "URGENT"
	case TierCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Severity is the overdue-report band of a loan. Only defined for
// loans past due.
type Severity string

const (
	SeverityOverdue  Severity = "OVERDUE"  // 1-6 days late
	SeverityLate     Severity = "LATE"     // 7-13 days late
	SeverityUrgent   Severity = "URGENT"   // 14-29 days late
	SeverityCritical Severity = "CRITICAL" // 30+ days late
)

// NotifyLeadDays is how far ahead of the due date a loan becomes
// reminder-worthy.
const NotifyLeadDays = 5

// midnight truncates t to local midnight. Urgency comparisons ignore
// time-of-day.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysUntilDue returns the whole days between now and dueAt, both
// normalized to midnight. Negative means overdue.
func DaysUntilDue(dueAt, now time.Time) int {
	return int(midnight(dueAt).Sub(midnight(now)).Hours() / 24)
}

// Classify maps a due date to its notification tier.
func Classify(dueAt, now time.Time) Tier {
	d := DaysUntilDue(dueAt, now)
	switch {
	case d < -7:
		return TierCritical
	case d < 0:
		return TierUrgent
	case d == 0:
		return TierDueToday
	case d <= NotifyLeadDays:
		return TierUpcoming
	default:
		return TierInfo
	}
}

// Notifiable reports whether a loan with this due date should have a
// reminder scheduled at all.
func Notifiable(dueAt, now time.Time) bool {
	return DaysUntilDue(dueAt, now) <= NotifyLeadDays
}

// ClassifySeverity maps days overdue onto the report severity bands.
// daysOverdue must be >= 1.
func ClassifySeverity(daysOverdue int) Severity {
	switch {
	case daysOverdue >= 30:
		return SeverityCritical
	case daysOverdue >= 14:
		return SeverityUrgent
	case daysOverdue >= 7:
		return SeverityLate
	default:
		return SeverityOverdue
	}
}
