package queue

import (
	"context"
	"errors"

	"fitalerts/internal/notification"
)

type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, p EmailPayload) (string, error)
}

// EmailPublisher mirrors selected notification types to email, one task
// per recipient.
type EmailPublisher struct {
	queue EmailEnqueuer
	types map[notification.NotificationType]struct{}
}

func NewEmailPublisher(queue EmailEnqueuer, types []string) *EmailPublisher {
	set := make(map[notification.NotificationType]struct{}, len(types))
	for _, t := range types {
		set[notification.NotificationType(t)] = struct{}{}
	}
	return &EmailPublisher{queue: queue, types: set}
}

func (p *EmailPublisher) Wants(t notification.NotificationType) bool {
	_, ok := p.types[t]
	return ok
}

func (p *EmailPublisher) Publish(ctx context.Context, d *notification.Delivery) error {
	if d == nil || d.Notification == nil || !p.Wants(d.Notification.Type) {
		return nil
	}

	var errs []error
	for _, userID := range d.Recipients {
		_, err := p.queue.EnqueueEmail(ctx, EmailPayload{
			NotificationID: d.Notification.ID,
			UserID:         userID,
			Type:           string(d.Notification.Type),
			Title:          d.Notification.Title,
			Message:        d.Notification.Message,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
