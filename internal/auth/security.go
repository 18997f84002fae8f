package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	limiterpkg "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("password", validatePassword)
	return v
}

func validatePassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()

	if len(password) < 8 {
		return false
	}
	if !strings.ContainsAny(password, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return false
	}
	if !strings.ContainsAny(password, "abcdefghijklmnopqrstuvwxyz") {
		return false
	}
	if !strings.ContainsAny(password, "0123456789") {
		return false
	}
	if !strings.ContainsAny(password, "!@#$%^&*()_+-=[]{}|;:,.<>?") {
		return false
	}
	return true
}

var disposableDomains = []string{
	"tempmail.com",
	"throwawaymail.com",
	"mailinator.com",
}

func ValidateEmail(email string) error {
	if err := Validate.Var(email, "required,email,max=255"); err != nil {
		return errors.New("invalid email format")
	}
	for _, domain := range disposableDomains {
		if strings.HasSuffix(strings.ToLower(email), "@"+domain) {
			return errors.New("disposable email addresses are not allowed")
		}
	}
	return nil
}

// NewRateLimiter limits requests per client IP over a one minute window.
func NewRateLimiter(perMinute int64) *limiterpkg.Limiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	rate := limiterpkg.Rate{Period: time.Minute, Limit: perMinute}
	return limiterpkg.New(memory.NewStore(), rate)
}

func RateLimitMiddleware(limiter *limiterpkg.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lctx, err := limiter.Get(c.Request().Context(), c.RealIP())
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "rate limit error"})
			}
			if lctx.Reached {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
