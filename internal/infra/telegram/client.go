// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"
	"strconv"

	"library_notification_bot/internal/domain/dispatch"
	"library_notification_bot/internal/domain/urgency"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter delivers reminder notifications over Telegram using
// gopkg.in/telebot.v3. Borrowers are addressed by their chat id, which
// the surrounding app stores as the loan's user id.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// Send renders the notification for its urgency tier and delivers it
// to the borrower's chat.
func (tba *TelebotAdapter) Send(ctx context.Context, n dispatch.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, err := strconv.ParseInt(n.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("user id %q is not a telegram chat id: %w", n.UserID, err)
	}

	recipient := &telebot.User{ID: chatID}
	_, err = tba.bot.Send(recipient, renderReminder(n), &telebot.SendOptions{})
	return err
}

// SendText sends a plain message, used for the admin overdue digest.
func (tba *TelebotAdapter) SendText(recipientChatID int64, text string) error {
	recipient := &telebot.User{ID: recipientChatID}
	_, err := tba.bot.Send(recipient, text, &telebot.SendOptions{})
	return err
}

func renderReminder(n dispatch.Notification) string {
	due := n.DueAt.Format("2006-01-02")
	switch n.Tier {
	case urgency.TierUpcoming:
		return fmt.Sprintf("Hi %s! Your loan of %q is due on %s. Please plan to return it.", n.UserName, n.BookTitle, due)
	case urgency.TierDueToday:
		return fmt.Sprintf("Hi %s! Your loan of %q is due today (%s).", n.UserName, n.BookTitle, due)
	case urgency.TierUrgent:
		return fmt.Sprintf("Hi %s! Your loan of %q was due on %s and is now overdue. Please return it as soon as possible.", n.UserName, n.BookTitle, due)
	case urgency.TierCritical:
		return fmt.Sprintf("Hi %s! Your loan of %q is long overdue (due %s). Please contact the library.", n.UserName, n.BookTitle, due)
	default:
		return fmt.Sprintf("Hi %s! Reminder about your loan of %q, due on %s.", n.UserName, n.BookTitle, due)
	}
}
