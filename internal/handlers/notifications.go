package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"fitalerts/internal/auth"
	"fitalerts/internal/db"
	"fitalerts/internal/notification"
)

type NotificationService interface {
	Produce(ctx context.Context, req *notification.Request) (*notification.Delivery, error)
	Backlog(ctx context.Context, filter notification.Filter) (*notification.Backlog, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Stats(ctx context.Context, userID string, includeAdmin bool) (*notification.Stats, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type MarkReadRequest struct {
	NotificationIDs []string `json:"notificationIds" validate:"omitempty,max=500,dive,required"`
	UserID          string   `json:"userId"`
	MarkAllAsRead   bool     `json:"markAllAsRead"`

	// IsAdmin picks the feed unreadCount is computed over, as on List. It
	// defaults to the caller's role.
	IsAdmin *bool `json:"isAdmin"`
}

type MarkReadResponse struct {
	Updated     int64 `json:"updated"`
	UnreadCount int   `json:"unreadCount"`
}

// List returns the caller's backlog, newest first.
func (h *NotificationHandler) List(c echo.Context) error {
	userID := auth.UserID(c)

	if requested := c.QueryParam("userId"); requested != "" && requested != userID {
		return errorJSON(c, http.StatusForbidden, "Cannot read another user's notifications")
	}

	includeAdmin, err := optionalBool(c.QueryParam("isAdmin"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "isAdmin must be a boolean")
	}
	if includeAdmin && auth.Role(c) != db.RoleAdmin {
		return errorJSON(c, http.StatusForbidden, "Admin notifications require the admin role")
	}

	unreadOnly, err := optionalBool(c.QueryParam("unreadOnly"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "unreadOnly must be a boolean")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		}
	}

	backlog, err := h.service.Backlog(c.Request().Context(), notification.Filter{
		UserID:       userID,
		IncludeAdmin: includeAdmin,
		UnreadOnly:   unreadOnly,
		Type:         notification.NotificationType(c.QueryParam("type")),
		Limit:        limit,
	})
	if err != nil {
		return serviceError(c, err, "Failed to get notifications")
	}

	return c.JSON(http.StatusOK, backlog)
}

// MarkRead accepts either explicit ids or markAllAsRead for the caller.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	userID := auth.UserID(c)
	ctx := c.Request().Context()

	var req MarkReadRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid notification ids")
	}

	includeAdmin := auth.Role(c) == db.RoleAdmin
	if req.IsAdmin != nil {
		includeAdmin = *req.IsAdmin
	} else if raw := c.QueryParam("isAdmin"); raw != "" {
		flag, err := strconv.ParseBool(raw)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "isAdmin must be a boolean")
		}
		includeAdmin = flag
	}
	if includeAdmin && auth.Role(c) != db.RoleAdmin {
		return errorJSON(c, http.StatusForbidden, "Admin notifications require the admin role")
	}

	var (
		updated int64
		err     error
	)
	switch {
	case req.MarkAllAsRead:
		if req.UserID != "" && req.UserID != userID {
			return errorJSON(c, http.StatusForbidden, "Cannot modify another user's notifications")
		}
		updated, err = h.service.MarkAllRead(ctx, userID)
	case len(req.NotificationIDs) > 0:
		updated, err = h.service.MarkRead(ctx, userID, req.NotificationIDs)
	default:
		return errorJSON(c, http.StatusBadRequest, "notificationIds or markAllAsRead is required")
	}
	if err != nil {
		return serviceError(c, err, "Failed to update notifications")
	}

	stats, err := h.service.Stats(ctx, userID, includeAdmin)
	if err != nil {
		return serviceError(c, err, "Failed to count unread notifications")
	}

	return c.JSON(http.StatusOK, MarkReadResponse{Updated: updated, UnreadCount: stats.Unread})
}

func (h *NotificationHandler) Stats(c echo.Context) error {
	stats, err := h.service.Stats(c.Request().Context(), auth.UserID(c), auth.Role(c) == db.RoleAdmin)
	if err != nil {
		return serviceError(c, err, "Failed to get notification stats")
	}
	return c.JSON(http.StatusOK, stats)
}

func optionalBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
