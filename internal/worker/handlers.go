package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"fitalerts/internal/db"
	"fitalerts/internal/mailer"
	"fitalerts/internal/metrics"
	"fitalerts/internal/notification"
	"fitalerts/internal/queue"
)

type Producer interface {
	Produce(ctx context.Context, req *notification.Request) (*notification.Delivery, error)
	Cleanup(ctx context.Context) (int64, error)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*db.User, error)
}

type EmailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Processor holds the task handlers. Email handling is optional.
type Processor struct {
	producer Producer
	users    UserLookup
	email    EmailSender
}

func NewProcessor(producer Producer, users UserLookup, email EmailSender) *Processor {
	return &Processor{producer: producer, users: users, email: email}
}

func (p *Processor) HandleProduce(ctx context.Context, t *asynq.Task) error {
	var payload queue.ProducePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return p.fail(queue.TypeProduce, fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry))
	}

	req, err := payload.Request()
	if err != nil {
		return p.fail(queue.TypeProduce, fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	}

	delivery, err := p.producer.Produce(ctx, req)
	if err != nil {
		if isPermanent(err) {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return p.fail(queue.TypeProduce, err)
	}

	recipients := 0
	if delivery != nil {
		recipients = len(delivery.Recipients)
	}
	slog.Info("Produced notification from queue",
		"type", payload.Type,
		"scope", payload.Scope,
		"recipients", recipients)
	metrics.TasksProcessed.WithLabelValues(queue.TypeProduce, "success").Inc()
	return nil
}

func (p *Processor) HandleEmail(ctx context.Context, t *asynq.Task) error {
	if p.email == nil || p.users == nil {
		metrics.TasksProcessed.WithLabelValues(queue.TypeEmail, "skipped").Inc()
		return nil
	}

	var payload queue.EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return p.fail(queue.TypeEmail, fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry))
	}

	user, err := p.users.GetUserByID(ctx, payload.UserID)
	if errors.Is(err, db.ErrUserNotFound) {
		return p.fail(queue.TypeEmail, fmt.Errorf("recipient %s: %w: %w", payload.UserID, err, asynq.SkipRetry))
	}
	if err != nil {
		return p.fail(queue.TypeEmail, err)
	}

	err = p.email.Send(ctx, mailer.Message{
		To:      user.Email,
		Subject: payload.Title,
		Body:    payload.Message,
	})
	if err != nil {
		return p.fail(queue.TypeEmail, err)
	}

	metrics.TasksProcessed.WithLabelValues(queue.TypeEmail, "success").Inc()
	return nil
}

func (p *Processor) HandleCleanup(ctx context.Context, _ *asynq.Task) error {
	deleted, err := p.producer.Cleanup(ctx)
	if err != nil {
		return p.fail(queue.TypeCleanup, err)
	}
	slog.Info("Cleaned up notifications", "deleted", deleted)
	metrics.TasksProcessed.WithLabelValues(queue.TypeCleanup, "success").Inc()
	return nil
}

func (p *Processor) fail(taskType string, err error) error {
	outcome := "retry"
	if errors.Is(err, asynq.SkipRetry) {
		outcome = "dropped"
	}
	metrics.TasksProcessed.WithLabelValues(taskType, outcome).Inc()
	slog.Error("Task failed", "task_type", taskType, "outcome", outcome, "error", err)
	return err
}

// isPermanent reports errors that no retry can fix.
func isPermanent(err error) bool {
	return errors.Is(err, notification.ErrInvalidRequest) ||
		errors.Is(err, notification.ErrUnknownScope) ||
		errors.Is(err, notification.ErrPayloadMismatch)
}
