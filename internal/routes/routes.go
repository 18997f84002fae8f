package routes

import (
	"github.com/labstack/echo/v4"
	limiterpkg "github.com/ulule/limiter/v3"

	"fitalerts/internal/auth"
	"fitalerts/internal/db"
	"fitalerts/internal/handlers"
	"fitalerts/internal/realtime"
)

type Handlers struct {
	Auth          *handlers.AuthHandler
	Notifications *handlers.NotificationHandler
	// Events is nil when the background queue is not configured.
	Events   *handlers.EventHandler
	Realtime *realtime.Handler
}

func SetupRoutes(api *echo.Group, h Handlers, jwt *auth.Manager, limiter *limiterpkg.Limiter) {
	api.GET("/health", handlers.HealthCheck)

	// the websocket authenticates itself so browsers can pass ?token=
	api.GET("/ws", h.Realtime.Serve)

	authGroup := api.Group("/auth", auth.RateLimitMiddleware(limiter))
	authGroup.POST("/signup", h.Auth.Signup)
	authGroup.POST("/login", h.Auth.Login)

	protected := api.Group("", jwt.JWTMiddleware, auth.RateLimitMiddleware(limiter))

	notifications := protected.Group("/notifications")
	notifications.GET("", h.Notifications.List)
	notifications.PATCH("", h.Notifications.MarkRead)
	notifications.GET("/stats", h.Notifications.Stats)

	admin := protected.Group("/admin", auth.RequireRole(db.RoleAdmin))
	admin.POST("/alerts", h.Notifications.CreateAlert)

	if h.Events != nil {
		eventsGroup := protected.Group("/events", auth.RequireRole(db.RoleAdmin, db.RoleService))
		eventsGroup.POST("", h.Events.Publish)
		eventsGroup.GET("/:id", h.Events.Status)
	}
}
