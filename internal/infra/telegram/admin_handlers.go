package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"library_notification_bot/internal/app"
	"library_notification_bot/internal/domain/book"
	idb "library_notification_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers registers the librarian command surface. Each
// command is a thin shim over the loan service; all business rules
// live below.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, loans *app.LoanService, adminChatID int64, baseLogger *logrus.Entry) {
	authorized := func(c telebot.Context, lg *logrus.Entry) bool {
		if c.Sender().ID != adminChatID {
			lg.Warn("Unauthorized access attempt")
			return false
		}
		return true
	}

	b.Handle("/add_book", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/add_book",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !authorized(c, handlerLogger) {
			return c.Send("Error: you are not allowed to run this command.")
		}

		args := c.Args()
		// Expected format: /add_book <copies> <title...> [by <author>]
		if len(args) < 2 {
			handlerLogger.WithField("args_count", len(args)).Warn("Invalid command format")
			return c.Send("Invalid format. Use: /add_book <copies> <title> [by <author>]")
		}

		copies, err := strconv.Atoi(args[0])
		if err != nil || copies < 0 {
			return c.Send("Error: copies must be a non-negative number.")
		}

		title := strings.Join(args[1:], " ")
		author := ""
		if i := strings.LastIndex(title, " by "); i > 0 {
			author = title[i+len(" by "):]
			title = title[:i]
		}
		if strings.TrimSpace(title) == "" {
			return c.Send("Error: title must not be empty.")
		}

		rec, err := loans.RegisterBook(ctx, title, author, copies)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to register book")
			return c.Send(fmt.Sprintf("Could not register the book: %s", err.Error()))
		}

		handlerLogger.WithField("book_id", rec.ID).Info("Book registered successfully")
		return c.Send(fmt.Sprintf("Book %q registered with %d copies.\nID: %s", rec.Title, rec.TotalCopies, rec.ID))
	})

	b.Handle("/assign", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/assign",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !authorized(c, handlerLogger) {
			return c.Send("Error: you are not allowed to run this command.")
		}

		args := c.Args()
		// Expected format: /assign <book_id> <chat_id> <name> <email> <due YYYY-MM-DD>
		if len(args) != 5 {
			handlerLogger.WithField("args_count", len(args)).Warn("Invalid command format")
			return c.Send("Invalid format. Use: /assign <book_id> <chat_id> <name> <email> <due YYYY-MM-DD>")
		}

		bookID, userID, userName, userEmail := args[0], args[1], args[2], args[3]
		dueAt, err := parseDueDate(args[4])
		if err != nil {
			return c.Send("Error: due date must look like 2025-01-31.")
		}

		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"book_id": bookID,
			"user_id": userID,
		})

		rec, err := loans.AssignLoan(ctx, bookID, userID, userName, userEmail, dueAt)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, idb.ErrBookNotFound):
				logWithError.Warn("Book not found")
				return c.Send(fmt.Sprintf("No book with ID %s.", bookID))
			case errors.Is(err, book.ErrCapacityExceeded):
				logWithError.Warn("No copies available")
				return c.Send("All copies of this book are already on loan.")
			case errors.Is(err, book.ErrAlreadyLoaned):
				logWithError.Warn("User already holds a copy")
				return c.Send("This user already holds a copy of this book.")
			case errors.Is(err, book.ErrInvalidDueDate):
				logWithError.Warn("Due date out of bounds")
				return c.Send("Due date must be between today and the maximum loan window.")
			default:
				logWithError.Error("Failed to assign loan")
				return c.Send(fmt.Sprintf("Could not assign the loan: %s", err.Error()))
			}
		}

		handlerLogger.Info("Loan assigned successfully")
		return c.Send(fmt.Sprintf("%q assigned to %s until %s. %d of %d copies now out.",
			rec.Title, userName, dueAt.Format("2006-01-02"), len(rec.Loans), rec.TotalCopies))
	})

	b.Handle("/extend", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/extend",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !authorized(c, handlerLogger) {
			return c.Send("Error: you are not allowed to run this command.")
		}

		args := c.Args()
		// Expected format: /extend <book_id> <chat_id> <due YYYY-MM-DD>
		if len(args) != 3 {
			handlerLogger.WithField("args_count", len(args)).Warn("Invalid command format")
			return c.Send("Invalid format. Use: /extend <book_id> <chat_id> <due YYYY-MM-DD>")
		}

		bookID, userID := args[0], args[1]
		newDueAt, err := parseDueDate(args[2])
		if err != nil {
			return c.Send("Error: due date must look like 2025-01-31.")
		}

		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"book_id": bookID,
			"user_id": userID,
		})

		rec, err := loans.ChangeDueDate(ctx, bookID, userID, newDueAt)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, idb.ErrBookNotFound):
				logWithError.Warn("Book not found")
				return c.Send(fmt.Sprintf("No book with ID %s.", bookID))
			case errors.Is(err, book.ErrLoanNotFound):
				logWithError.Warn("Loan not found")
				return c.Send("This user does not hold a copy of this book.")
			case errors.Is(err, book.ErrInvalidDueDate):
				logWithError.Warn("Due date out of bounds")
				return c.Send("Due date must be between today and the maximum loan window.")
			default:
				logWithError.Error("Failed to change due date")
				return c.Send(fmt.Sprintf("Could not change the due date: %s", err.Error()))
			}
		}

		handlerLogger.Info("Due date changed successfully")
		return c.Send(fmt.Sprintf("%q now due on %s.", rec.Title, newDueAt.Format("2006-01-02")))
	})

	b.Handle("/return", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/return",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !authorized(c, handlerLogger) {
			return c.Send("Error: you are not allowed to run this command.")
		}

		args := c.Args()
		// Expected format: /return <book_id> <chat_id>
		if len(args) != 2 {
			handlerLogger.WithField("args_count", len(args)).Warn("Invalid command format")
			return c.Send("Invalid format. Use: /return <book_id> <chat_id>")
		}

		bookID, userID := args[0], args[1]
		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"book_id": bookID,
			"user_id": userID,
		})

		rec, err := loans.ReturnLoan(ctx, bookID, userID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, idb.ErrBookNotFound):
				logWithError.Warn("Book not found")
				return c.Send(fmt.Sprintf("No book with ID %s.", bookID))
			case errors.Is(err, book.ErrLoanNotFound):
				logWithError.Warn("Loan not found")
				return c.Send("This user does not hold a copy of this book.")
			default:
				logWithError.Error("Failed to return loan")
				return c.Send(fmt.Sprintf("Could not process the return: %s", err.Error()))
			}
		}

		handlerLogger.Info("Loan returned successfully")
		return c.Send(fmt.Sprintf("%q returned. %d of %d copies now out, status: %s.",
			rec.Title, len(rec.Loans), rec.TotalCopies, rec.Status()))
	})

	b.Handle("/loans", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/loans",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c, handlerLogger) {
			return c.Send("Error: you are not allowed to run this command.")
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /loans <chat_id>")
		}
		userID := args[0]

		active, err := loans.ListActiveLoans(ctx, userID)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list loans")
			return c.Send(fmt.Sprintf("Could not list loans: %s", err.Error()))
		}
		if len(active) == 0 {
			return c.Send("No active loans for this user.")
		}

		var response strings.Builder
		response.WriteString(fmt.Sprintf("Active loans for %s:\n", userID))
		for _, l := range active {
			response.WriteString(fmt.Sprintf("%q, due %s (assigned %s)\n",
				l.BookTitle, l.Loan.DueAt.Format("2006-01-02"), l.Loan.AssignedAt.Format("2006-01-02")))
		}
		return c.Send(response.String())
	})

	b.Handle("/list_books", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/list_books",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c, handlerLogger) {
			return c.Send("Error: you are not allowed to run this command.")
		}

		records, err := loans.ListBooks(ctx)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list books")
			return c.Send(fmt.Sprintf("Could not list books: %s", err.Error()))
		}
		if len(records) == 0 {
			return c.Send("The catalogue is empty.")
		}

		var response strings.Builder
		response.WriteString("--- Catalogue ---\n")
		for _, rec := range records {
			response.WriteString(fmt.Sprintf("%s: %q, %d/%d copies out, %s\n",
				rec.ID, rec.Title, len(rec.Loans), rec.TotalCopies, rec.Status()))
		}
		return c.Send(response.String())
	})

	b.Handle("/overdue", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/overdue",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c, handlerLogger) {
			return c.Send("Error: you are not allowed to run this command.")
		}

		entries, err := loans.BuildOverdueReport(ctx)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to build overdue report")
			return c.Send(fmt.Sprintf("Could not build the overdue report: %s", err.Error()))
		}
		if len(entries) == 0 {
			return c.Send("No overdue loans.")
		}

		var response strings.Builder
		response.WriteString(fmt.Sprintf("Overdue loans: %d\n", len(entries)))
		for _, e := range entries {
			response.WriteString(fmt.Sprintf("[%s] %q held by %s: %d day(s) overdue\n",
				e.Severity, e.BookTitle, e.UserName, e.DaysOverdue))
		}
		return c.Send(response.String())
	})
}

// parseDueDate accepts YYYY-MM-DD and places the deadline at the end
// of that local day, so a loan due "today" is still valid at creation.
func parseDueDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 0, 0, time.Local), nil
}
