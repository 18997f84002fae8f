package realtime

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"fitalerts/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// ConnectLimiter throttles connection attempts per user.
type ConnectLimiter interface {
	Allow(key string) bool
}

type Handler struct {
	hub      *Hub
	tokens   TokenParser
	limiter  ConnectLimiter
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, tokens TokenParser, limiter ConnectLimiter, allowedOrigins []string) *Handler {
	return &Handler{
		hub:     hub,
		tokens:  tokens,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker returns nil (same origin only) for an empty list, and
// accepts any origin when the list contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

// Serve authenticates the caller, upgrades the connection and starts its
// pumps. The token comes from the Authorization header or ?token=.
func (h *Handler) Serve(c echo.Context) error {
	token := auth.TokenFromRequest(c.Request())
	if token == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Authorization token is required"})
	}
	claims, err := h.tokens.ParseToken(token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
	}
	if h.limiter != nil && !h.limiter.Allow(claims.UserID) {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many connection attempts"})
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", claims.UserID, "error", err)
		return nil
	}

	client := h.hub.Register(claims.UserID)
	go writePump(conn, client)
	go readPump(conn, h.hub, client)
	return nil
}

// readPump only services control frames; clients never send data we act on.
func readPump(conn *websocket.Conn, hub *Hub, client *Client) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket closed unexpectedly", "user_id", client.UserID, "error", err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "reconnect"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
