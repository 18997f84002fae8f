package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitalerts/internal/auth"
)

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestServer(t *testing.T, hub *Hub, limiter ConnectLimiter) (*httptest.Server, *auth.Manager) {
	t.Helper()
	tokens := auth.NewManager("test-secret", time.Hour)
	e := echo.New()
	e.GET("/api/ws", NewHandler(hub, tokens, limiter, []string{"*"}).Serve)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
}

func TestServePushesDeliveries(t *testing.T) {
	hub := NewHub(8)
	srv, tokens := newTestServer(t, hub, nil)

	token, err := tokens.GenerateToken("user-1", "member")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connections("user-1") == 1 }, time.Second, 10*time.Millisecond)

	_, err = hub.Deliver(delivery("n-1", "user-1"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "n-1", decodeFrame(t, msg).ID)
}

func TestServeUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(8)
	srv, tokens := newTestServer(t, hub, nil)

	token, err := tokens.GenerateToken("user-1", "member")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Connections("user-1") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Connections("user-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeRejectsBadToken(t *testing.T) {
	hub := NewHub(8)
	srv, _ := newTestServer(t, hub, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, hub.Len())
}

func TestServeRateLimited(t *testing.T) {
	hub := NewHub(8)
	srv, tokens := newTestServer(t, hub, denyAll{})

	token, err := tokens.GenerateToken("user-1", "member")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))

	check := originChecker([]string{"https://app.fitalerts.dev"})
	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	req.Header.Set("Origin", "https://app.fitalerts.dev")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
