// Package dispatch defines the outbound notification boundary. The
// channel (push, email, chat) and message rendering live entirely
// behind this interface.
package dispatch

import (
	"context"
	"time"

	"library_notification_bot/internal/domain/urgency"
)

// Notification is the structured payload handed to the channel
// adapter. The scheduler never renders message text itself.
type Notification struct {
	UserID    string
	UserName  string
	UserEmail string
	BookID    string
	BookTitle string
	DueAt     time.Time
	Tier      urgency.Tier
}

// Dispatcher delivers one notification through an external channel.
// Implementations must be safe for concurrent use and honor context
// cancellation so a slow channel cannot stall the scheduler.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// Guard claims a fire slot before dispatch so the same reminder is
// sent at most once when several scheduler replicas tick concurrently.
type Guard interface {
	// Acquire returns false if the key was already claimed.
	Acquire(ctx context.Context, key string) (bool, error)
}
