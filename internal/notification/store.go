package notification

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidRequest  = errors.New("invalid notification request")
	ErrUnknownScope    = errors.New("unknown recipient scope")
	ErrPayloadMismatch = errors.New("payload does not match notification type")
)

// Store persists notifications and one receipt per recipient. Read state
// lives on the receipt, never on the shared notification.
type Store interface {
	// Create writes the notification and its receipts atomically.
	Create(ctx context.Context, n *Notification, recipients []string) error
	List(ctx context.Context, filter Filter, now time.Time) ([]*Notification, error)
	// MarkRead flips the caller's unread receipts among ids and returns how
	// many changed. Ids the caller cannot see are ignored.
	MarkRead(ctx context.Context, userID string, ids []string, at time.Time) (int64, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Stats(ctx context.Context, userID string, includeAdmin bool, now time.Time) (*Stats, error)
	// DeleteExpired removes notifications past their expiry, and, when
	// createdBefore is non-zero, those created before it.
	DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error)
}

// Directory resolves who currently holds the admin role.
type Directory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}

// Publisher receives every delivery after it has been stored.
type Publisher interface {
	Publish(ctx context.Context, d *Delivery) error
}

type PublisherFunc func(ctx context.Context, d *Delivery) error

func (f PublisherFunc) Publish(ctx context.Context, d *Delivery) error {
	return f(ctx, d)
}
