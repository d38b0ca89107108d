package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"library_notification_bot/internal/domain/book"
	"library_notification_bot/internal/domain/overdue"
	idb "library_notification_bot/internal/infra/database"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrConflictRetriesExhausted is returned when a ledger mutation keeps
// losing the compare-and-swap race. The whole operation can be retried
// by the caller; no partial state was written.
var ErrConflictRetriesExhausted = errors.New("persistence conflict retries exhausted")

const defaultCASAttempts = 3

// ReminderScheduler is the slice of the reminder engine the loan
// service drives: every ledger mutation is followed by a reschedule or
// cancel for the affected (book, user) key.
type ReminderScheduler interface {
	Schedule(bookID, bookTitle string, loan book.Loan)
	CancelAll(bookID, userID string)
}

// ActiveLoan pairs a loan with the book it belongs to, for the
// per-user derived read.
type ActiveLoan struct {
	BookID    string
	BookTitle string
	Loan      book.Loan
}

// LoanService is the single serialized entry point for loan
// mutations. Ledger transforms are pure; durability and lost-update
// protection come from the repository's compare-and-swap, retried a
// bounded number of times.
type LoanService struct {
	books       book.Repository
	reminders   ReminderScheduler
	policy      book.Policy
	clock       Clock
	logger      *logrus.Entry
	casAttempts int

	mu        sync.Mutex
	bookLocks map[string]*sync.Mutex
}

func NewLoanService(
	books book.Repository,
	reminders ReminderScheduler,
	policy book.Policy,
	clock Clock,
	logger *logrus.Entry,
) *LoanService {
	return &LoanService{
		books:       books,
		reminders:   reminders,
		policy:      policy,
		clock:       clock,
		logger:      logger,
		casAttempts: defaultCASAttempts,
		bookLocks:   make(map[string]*sync.Mutex),
	}
}

// bookLock returns the mutex serializing mutations of one book. The
// lock must span both the ledger write and the reminder reschedule or
// cancel, otherwise a concurrent return could cancel the job before a
// slower extension re-inserts it for a loan that no longer exists.
func (s *LoanService) bookLock(bookID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.bookLocks[bookID]
	if !ok {
		l = &sync.Mutex{}
		s.bookLocks[bookID] = l
	}
	return l
}

// mutate loads the book, applies the pure transform and persists the
// result with compare-and-swap, re-reading and retrying on conflict.
func (s *LoanService) mutate(ctx context.Context, bookID string, transform func(*book.Record) (*book.Record, error)) (*book.Record, error) {
	for attempt := 1; attempt <= s.casAttempts; attempt++ {
		rec, err := s.books.GetByID(ctx, bookID)
		if err != nil {
			return nil, err
		}

		next, err := transform(rec)
		if err != nil {
			return nil, err
		}

		err = s.books.CompareAndSwap(ctx, rec.Version, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, idb.ErrVersionConflict) {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"book_id": bookID,
			"attempt": attempt,
		}).Warn("Version conflict on book mutation, re-reading")
	}
	return nil, fmt.Errorf("%w: book %s after %d attempts", ErrConflictRetriesExhausted, bookID, s.casAttempts)
}

// AssignLoan lends one copy of the book to the user and schedules the
// reminder job for the new loan.
func (s *LoanService) AssignLoan(ctx context.Context, bookID, userID, userName, userEmail string, dueAt time.Time) (*book.Record, error) {
	lock := s.bookLock(bookID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	rec, err := s.mutate(ctx, bookID, func(r *book.Record) (*book.Record, error) {
		return s.policy.AssignLoan(r, userID, userName, userEmail, dueAt, now)
	})
	if err != nil {
		return nil, err
	}

	s.reminders.Schedule(rec.ID, rec.Title, *rec.FindLoan(userID))
	s.logger.WithFields(logrus.Fields{
		"book_id": bookID,
		"user_id": userID,
		"due_at":  dueAt.Format("2006-01-02"),
	}).Info("Loan assigned")
	return rec, nil
}

// ChangeDueDate moves the due date of an existing loan and replaces
// its reminder job. The old job is superseded before the new date can
// fire, so a stale reminder never goes out.
func (s *LoanService) ChangeDueDate(ctx context.Context, bookID, userID string, newDueAt time.Time) (*book.Record, error) {
	lock := s.bookLock(bookID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	rec, err := s.mutate(ctx, bookID, func(r *book.Record) (*book.Record, error) {
		return s.policy.ChangeDueDate(r, userID, newDueAt, now)
	})
	if err != nil {
		return nil, err
	}

	s.reminders.Schedule(rec.ID, rec.Title, *rec.FindLoan(userID))
	s.logger.WithFields(logrus.Fields{
		"book_id":    bookID,
		"user_id":    userID,
		"new_due_at": newDueAt.Format("2006-01-02"),
	}).Info("Loan due date changed")
	return rec, nil
}

// ReturnLoan removes the user's loan and cancels any pending reminder
// for the key.
func (s *LoanService) ReturnLoan(ctx context.Context, bookID, userID string) (*book.Record, error) {
	lock := s.bookLock(bookID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.mutate(ctx, bookID, func(r *book.Record) (*book.Record, error) {
		return s.policy.ReturnLoan(r, userID)
	})
	if err != nil {
		return nil, err
	}

	s.reminders.CancelAll(bookID, userID)
	s.logger.WithFields(logrus.Fields{
		"book_id": bookID,
		"user_id": userID,
	}).Info("Loan returned")
	return rec, nil
}

// RegisterBook adds a new title to the catalogue.
func (s *LoanService) RegisterBook(ctx context.Context, title, author string, totalCopies int) (*book.Record, error) {
	if totalCopies < 0 {
		return nil, fmt.Errorf("total copies must not be negative, got %d", totalCopies)
	}
	rec := &book.Record{
		ID:          uuid.NewString(),
		Title:       title,
		Author:      author,
		TotalCopies: totalCopies,
	}
	if err := s.books.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"book_id": rec.ID,
		"title":   title,
		"copies":  totalCopies,
	}).Info("Book registered")
	return rec, nil
}

// ListBooks returns every catalogued book.
func (s *LoanService) ListBooks(ctx context.Context) ([]*book.Record, error) {
	return s.books.ListAll(ctx)
}

// ListActiveLoans is the derived read of all loans held by one user
// across every book.
func (s *LoanService) ListActiveLoans(ctx context.Context, userID string) ([]ActiveLoan, error) {
	books, err := s.books.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []ActiveLoan
	for _, rec := range books {
		if loan := rec.FindLoan(userID); loan != nil {
			out = append(out, ActiveLoan{BookID: rec.ID, BookTitle: rec.Title, Loan: *loan})
		}
	}
	return out, nil
}

// BuildOverdueReport runs the aggregator over a snapshot of all books.
func (s *LoanService) BuildOverdueReport(ctx context.Context) ([]overdue.Entry, error) {
	books, err := s.books.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return overdue.BuildReport(books, s.clock.Now()), nil
}
