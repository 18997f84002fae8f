package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	"fitalerts/internal/events"
	"fitalerts/internal/notification"
)

type EventQueue interface {
	EnqueueProduce(ctx context.Context, req *notification.Request) (string, error)
	GetTaskStatus(taskID string) (*asynq.TaskInfo, error)
}

type EventHandler struct {
	queue EventQueue
}

func NewEventHandler(queue EventQueue) *EventHandler {
	return &EventHandler{queue: queue}
}

type TaskStatus struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	State       string     `json:"state"`
	Retried     int        `json:"retried"`
	MaxRetry    int        `json:"maxRetry"`
	LastError   string     `json:"lastError,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Publish validates a business event and queues its notification.
func (h *EventHandler) Publish(c echo.Context) error {
	var env events.Envelope
	if err := c.Bind(&env); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}

	req, err := events.Build(env)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEvent) || errors.Is(err, events.ErrInvalidEvent) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, "Failed to build event")
	}

	taskID, err := h.queue.EnqueueProduce(c.Request().Context(), req)
	if err != nil {
		slog.Error("Failed to enqueue event", "event", env.Event, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to enqueue event")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (h *EventHandler) Status(c echo.Context) error {
	info, err := h.queue.GetTaskStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return errorJSON(c, http.StatusNotFound, "Task not found")
		}
		slog.Error("Failed to get task status", "task_id", c.Param("id"), "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to get task status")
	}

	status := TaskStatus{
		ID:        info.ID,
		Type:      info.Type,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if !info.CompletedAt.IsZero() {
		completedAt := info.CompletedAt
		status.CompletedAt = &completedAt
	}
	return c.JSON(http.StatusOK, status)
}
