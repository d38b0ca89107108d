package book

import (
	"errors"
	"fmt"
	"time"
)

// Ledger operation errors. Returned synchronously; a failed operation
// never partially mutates the input snapshot.
var (
	ErrCapacityExceeded = errors.New("all copies of this book are already on loan")
	ErrAlreadyLoaned    = errors.New("user already holds a copy of this book")
	ErrLoanNotFound     = errors.New("no active loan for this user on this book")
	ErrInvalidDueDate   = errors.New("due date outside the allowed loan window")
)

// DefaultMaxLoanDays is the business-rule maximum loan window.
const DefaultMaxLoanDays = 30

// Policy holds the date bounds applied to assignment and extension.
type Policy struct {
	MaxLoanDays int
}

func DefaultPolicy() Policy {
	return Policy{MaxLoanDays: DefaultMaxLoanDays}
}

func (p Policy) validateDueDate(dueAt, now time.Time) error {
	if dueAt.Before(now) {
		return fmt.Errorf("%w: %s is in the past", ErrInvalidDueDate, dueAt.Format(time.RFC3339))
	}
	if dueAt.After(now.AddDate(0, 0, p.MaxLoanDays)) {
		return fmt.Errorf("%w: %s is more than %d days out", ErrInvalidDueDate, dueAt.Format(time.RFC3339), p.MaxLoanDays)
	}
	return nil
}

// AssignLoan lends one copy of rec to the given user. It is a pure
// transform: rec is not modified, the updated snapshot is returned.
func (p Policy) AssignLoan(rec *Record, userID, userName, userEmail string, dueAt, now time.Time) (*Record, error) {
	if len(rec.Loans) >= rec.TotalCopies {
		return nil, fmt.Errorf("%w: %d/%d copies out", ErrCapacityExceeded, len(rec.Loans), rec.TotalCopies)
	}
	if rec.FindLoan(userID) != nil {
		return nil, fmt.Errorf("%w: user %s", ErrAlreadyLoaned, userID)
	}
	if err := p.validateDueDate(dueAt, now); err != nil {
		return nil, err
	}

	next := rec.Clone()
	next.Loans = append(next.Loans, Loan{
		UserID:     userID,
		UserName:   userName,
		UserEmail:  userEmail,
		AssignedAt: now,
		DueAt:      dueAt,
	})
	return next, nil
}

// ChangeDueDate replaces the due date of the user's loan in place,
// preserving all other fields and the loan's list position. The new
// date is bounded relative to now, not the original assignment.
func (p Policy) ChangeDueDate(rec *Record, userID string, newDueAt, now time.Time) (*Record, error) {
	if rec.FindLoan(userID) == nil {
		return nil, fmt.Errorf("%w: user %s", ErrLoanNotFound, userID)
	}
	if err := p.validateDueDate(newDueAt, now); err != nil {
		return nil, err
	}

	next := rec.Clone()
	next.FindLoan(userID).DueAt = newDueAt
	return next, nil
}

// ReturnLoan removes the user's loan, freeing one copy.
func (p Policy) ReturnLoan(rec *Record, userID string) (*Record, error) {
	idx := -1
	for i := range rec.Loans {
		if rec.Loans[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: user %s", ErrLoanNotFound, userID)
	}

	next := rec.Clone()
	next.Loans = append(next.Loans[:idx], next.Loans[idx+1:]...)
	return next, nil
}
