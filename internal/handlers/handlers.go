package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"fitalerts/internal/notification"
)

// Validator plugs go-playground/validator into echo's c.Validate.
type Validator struct {
	V *validator.Validate
}

func (v *Validator) Validate(i interface{}) error {
	return v.V.Struct(i)
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

// serviceError maps notification errors to a status. Anything unexpected is
// logged and hidden behind a 500.
func serviceError(c echo.Context, err error, message string) error {
	switch {
	case errors.Is(err, notification.ErrInvalidRequest),
		errors.Is(err, notification.ErrUnknownScope),
		errors.Is(err, notification.ErrPayloadMismatch):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	slog.Error(message, "path", c.Path(), "error", err)
	return errorJSON(c, http.StatusInternalServerError, message)
}

func HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
