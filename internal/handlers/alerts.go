package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"fitalerts/internal/events"
	"fitalerts/internal/notification"
)

type AlertResponse struct {
	Notification *notification.Notification `json:"notification"`
	Recipients   int                        `json:"recipients"`
}

// CreateAlert produces a system alert for all admins right away.
func (h *NotificationHandler) CreateAlert(c echo.Context) error {
	var req events.Alert
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	delivery, err := h.service.Produce(c.Request().Context(), events.SystemAlert(req))
	if err != nil {
		return serviceError(c, err, "Failed to create alert")
	}
	if delivery == nil {
		return c.JSON(http.StatusOK, AlertResponse{})
	}

	return c.JSON(http.StatusCreated, AlertResponse{
		Notification: delivery.Notification,
		Recipients:   len(delivery.Recipients),
	})
}
