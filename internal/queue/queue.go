package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"fitalerts/internal/notification"
)

const (
	TypeProduce = "notification:produce"
	TypeEmail   = "notification:email"
	TypeCleanup = "notification:cleanup"

	QueueNotifications = "notifications"
	QueueEmail         = "email"
	QueueMaintenance   = "maintenance"
)

// ProducePayload carries a notification request through Redis.
type ProducePayload struct {
	Type    string          `json:"type"`
	Scope   string          `json:"scope"`
	UserID  string          `json:"userId,omitempty"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// TTL travels as nanoseconds so no precision is lost in the queue.
	TTL *time.Duration `json:"ttl,omitempty"`
}

func NewProducePayload(req *notification.Request) (*ProducePayload, error) {
	raw, err := notification.EncodePayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	p := &ProducePayload{
		Type:    string(req.Type),
		Scope:   string(req.Scope),
		UserID:  req.UserID,
		Title:   req.Title,
		Message: req.Message,
		Payload: raw,
	}
	if req.TTL != nil {
		ttl := *req.TTL
		p.TTL = &ttl
	}
	return p, nil
}

func (p *ProducePayload) Request() (*notification.Request, error) {
	t := notification.NotificationType(p.Type)
	payload, err := notification.DecodePayload(t, p.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", notification.ErrPayloadMismatch, err)
	}
	req := &notification.Request{
		Type:    t,
		Scope:   notification.Scope(p.Scope),
		UserID:  p.UserID,
		Title:   p.Title,
		Message: p.Message,
		Payload: payload,
	}
	if p.TTL != nil {
		ttl := *p.TTL
		req.TTL = &ttl
	}
	return req, nil
}

type EmailPayload struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

func NewProduceTask(req *notification.Request) (*asynq.Task, error) {
	p, err := NewProducePayload(req)
	if err != nil {
		return nil, err
	}
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeProduce, payloadBytes), nil
}

func NewEmailTask(p EmailPayload) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeEmail, payloadBytes), nil
}

func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeCleanup, nil)
}

// Client enqueues notification work and reports on it.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewClient(redisOpt asynq.RedisConnOpt) *Client {
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

// EnqueueProduce hands a request to the worker; it retries if the store is
// unavailable.
func (c *Client) EnqueueProduce(ctx context.Context, req *notification.Request) (string, error) {
	task, err := NewProduceTask(req)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	slog.Debug("enqueued notification", "task_id", info.ID, "type", req.Type)
	return info.ID, nil
}

func (c *Client) EnqueueEmail(ctx context.Context, p EmailPayload) (string, error) {
	task, err := NewEmailTask(p)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueEmail),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue email task: %w", err)
	}
	return info.ID, nil
}

// GetTaskStatus looks up a produce task.
func (c *Client) GetTaskStatus(taskID string) (*asynq.TaskInfo, error) {
	info, err := c.inspector.GetTaskInfo(QueueNotifications, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task info: %w", err)
	}
	return info, nil
}

func (c *Client) Close() error {
	if err := c.inspector.Close(); err != nil {
		slog.Warn("failed to close queue inspector", "error", err)
	}
	return c.client.Close()
}
