package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitalerts/internal/auth"
	"fitalerts/internal/db"
	"fitalerts/internal/handlers"
	"fitalerts/internal/notification"
	"fitalerts/internal/realtime"
	"fitalerts/internal/routes"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*db.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*db.User{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, email, passwordHash, name, role string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return nil, db.ErrEmailTaken
	}
	u := &db.User{
		ID:        "user-" + name,
		Email:     email,
		Password:  passwordHash,
		Name:      name,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	f.users[email] = u
	return u, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return u, nil
}

type admins []string

func (a admins) AdminIDs(context.Context) ([]string, error) { return a, nil }

type fakeQueue struct {
	mu       sync.Mutex
	requests []*notification.Request
}

func (q *fakeQueue) EnqueueProduce(_ context.Context, req *notification.Request) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
	return "task-1", nil
}

func (q *fakeQueue) GetTaskStatus(taskID string) (*asynq.TaskInfo, error) {
	if taskID != "task-1" {
		return nil, asynq.ErrTaskNotFound
	}
	return &asynq.TaskInfo{ID: taskID, Type: "notification:produce", State: asynq.TaskStateCompleted, MaxRetry: 5}, nil
}

type testEnv struct {
	e       *echo.Echo
	tokens  *auth.Manager
	service *notification.Service
	queue   *fakeQueue
	users   *fakeUsers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens := auth.NewManager("test-secret", time.Hour)
	hub := realtime.NewHub(8)
	t.Cleanup(hub.Close)

	service := notification.NewService(notification.NewMemoryStore(), admins{"admin-a", "admin-b"},
		notification.WithPublishers(hub))
	env := &testEnv{
		tokens:  tokens,
		service: service,
		queue:   &fakeQueue{},
		users:   newFakeUsers(),
	}
	env.e = NewEcho(routes.Handlers{
		Auth:          handlers.NewAuthHandler(env.users, tokens),
		Notifications: handlers.NewNotificationHandler(service),
		Events:        handlers.NewEventHandler(env.queue),
		Realtime:      realtime.NewHandler(hub, tokens, nil, nil),
	}, tokens, auth.NewRateLimiter(1000), nil)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		token, err := env.tokens.GenerateToken(userID, role)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (env *testEnv) submitApplication(t *testing.T) string {
	t.Helper()
	d, err := env.service.Produce(context.Background(), &notification.Request{
		Type:    notification.TypeApplicationSubmitted,
		Scope:   notification.ScopeAdmins,
		Title:   "New trainer application",
		Payload: notification.ApplicationPayload{ApplicationID: "a-1", ApplicantID: "u-9", ApplicantName: "Kofi"},
	})
	require.NoError(t, err)
	return d.Notification.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNotificationsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/notifications", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminsReadBroadcastIndependently(t *testing.T) {
	env := newTestEnv(t)
	id := env.submitApplication(t)

	for _, admin := range []string{"admin-a", "admin-b"} {
		rec := env.do(t, http.MethodGet, "/api/notifications?isAdmin=true", admin, db.RoleAdmin, "")
		require.Equal(t, http.StatusOK, rec.Code)
		backlog := decodeBody[notification.Backlog](t, rec)
		require.Len(t, backlog.Notifications, 1)
		assert.Equal(t, 1, backlog.UnreadCount)
		assert.Equal(t, notification.ApplicationPayload{ApplicationID: "a-1", ApplicantID: "u-9", ApplicantName: "Kofi"},
			backlog.Notifications[0].Payload)
	}

	rec := env.do(t, http.MethodPatch, "/api/notifications", "admin-a", db.RoleAdmin, `{"notificationIds":["`+id+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handlers.MarkReadResponse{Updated: 1, UnreadCount: 0}, decodeBody[handlers.MarkReadResponse](t, rec))

	rec = env.do(t, http.MethodGet, "/api/notifications?isAdmin=true", "admin-b", db.RoleAdmin, "")
	assert.Equal(t, 1, decodeBody[notification.Backlog](t, rec).UnreadCount)

	rec = env.do(t, http.MethodPatch, "/api/notifications", "admin-b", db.RoleAdmin, `{"userId":"admin-b","markAllAsRead":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handlers.MarkReadResponse{Updated: 1, UnreadCount: 0}, decodeBody[handlers.MarkReadResponse](t, rec))

	// repeating is harmless
	rec = env.do(t, http.MethodPatch, "/api/notifications", "admin-b", db.RoleAdmin, `{"markAllAsRead":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handlers.MarkReadResponse{Updated: 0, UnreadCount: 0}, decodeBody[handlers.MarkReadResponse](t, rec))
}

func TestListGuards(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "other user", path: "/api/notifications?userId=someone-else", want: http.StatusForbidden},
		{name: "admin feed for member", path: "/api/notifications?isAdmin=true", want: http.StatusForbidden},
		{name: "bad flag", path: "/api/notifications?unreadOnly=maybe", want: http.StatusBadRequest},
		{name: "bad limit", path: "/api/notifications?limit=0", want: http.StatusBadRequest},
		{name: "own feed", path: "/api/notifications?userId=member-1&limit=10", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "member-1", db.RoleMember, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestMarkReadGuards(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/notifications", "member-1", db.RoleMember, `{"userId":"member-2","markAllAsRead":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/notifications", "member-1", db.RoleMember, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// ids the caller cannot see are ignored
	id := env.submitApplication(t)
	rec = env.do(t, http.MethodPatch, "/api/notifications", "member-1", db.RoleMember, `{"notificationIds":["`+id+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decodeBody[handlers.MarkReadResponse](t, rec).Updated)

	rec = env.do(t, http.MethodPatch, "/api/notifications", "member-1", db.RoleMember, `{"notificationIds":["`+id+`"],"isAdmin":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/notifications?isAdmin=maybe", "member-1", db.RoleMember, `{"notificationIds":["`+id+`"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkReadCountsTheRequestedFeed(t *testing.T) {
	env := newTestEnv(t)
	env.submitApplication(t)
	_, err := env.service.Produce(context.Background(), &notification.Request{
		Type:   notification.TypeTrainerRemoved,
		Scope:  notification.ScopeUser,
		UserID: "admin-a",
		Title:  "Trainer role removed",
	})
	require.NoError(t, err)

	list := func(isAdmin string) notification.Backlog {
		rec := env.do(t, http.MethodGet, "/api/notifications?isAdmin="+isAdmin, "admin-a", db.RoleAdmin, "")
		require.Equal(t, http.StatusOK, rec.Code)
		return decodeBody[notification.Backlog](t, rec)
	}
	personal := list("false")
	require.Len(t, personal.Notifications, 1)
	all := list("true")
	require.Len(t, all.Notifications, 2)

	// reading the broadcast leaves the personal feed count alone
	broadcast := all.Notifications[0].ID
	if all.Notifications[0].Scope != notification.ScopeAdmins {
		broadcast = all.Notifications[1].ID
	}
	rec := env.do(t, http.MethodPatch, "/api/notifications", "admin-a", db.RoleAdmin, `{"notificationIds":["`+broadcast+`"],"isAdmin":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[handlers.MarkReadResponse](t, rec)
	assert.Equal(t, int64(1), resp.Updated)
	assert.Equal(t, list("false").UnreadCount, resp.UnreadCount)
	assert.Equal(t, 1, resp.UnreadCount)

	rec = env.do(t, http.MethodPatch, "/api/notifications?isAdmin=true", "admin-a", db.RoleAdmin, `{"notificationIds":["`+broadcast+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, list("true").UnreadCount, decodeBody[handlers.MarkReadResponse](t, rec).UnreadCount)

	// without a flag an admin gets the full feed count
	rec = env.do(t, http.MethodPatch, "/api/notifications", "admin-a", db.RoleAdmin, `{"markAllAsRead":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[handlers.MarkReadResponse](t, rec).UnreadCount)
}

func TestUserScopedNotificationStaysPrivate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Produce(context.Background(), &notification.Request{
		Type:   notification.TypeApplicationApproved,
		Scope:  notification.ScopeUser,
		UserID: "member-1",
		Title:  "Application approved",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/notifications", "member-1", db.RoleMember, "")
	assert.Len(t, decodeBody[notification.Backlog](t, rec).Notifications, 1)

	rec = env.do(t, http.MethodGet, "/api/notifications", "member-2", db.RoleMember, "")
	assert.Empty(t, decodeBody[notification.Backlog](t, rec).Notifications)

	rec = env.do(t, http.MethodGet, "/api/notifications/stats", "member-1", db.RoleMember, "")
	assert.Equal(t, notification.Stats{Total: 1, Unread: 1}, decodeBody[notification.Stats](t, rec))
}

func TestCreateAlert(t *testing.T) {
	env := newTestEnv(t)
	body := `{"title":"Maintenance","message":"Down at 2am","severity":"warning","ttlSeconds":3600}`

	rec := env.do(t, http.MethodPost, "/api/admin/alerts", "member-1", db.RoleMember, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/alerts", "admin-a", db.RoleAdmin, `{"title":"x","severity":"loud"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/alerts", "admin-a", db.RoleAdmin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[handlers.AlertResponse](t, rec)
	assert.Equal(t, 2, resp.Recipients)
	require.NotNil(t, resp.Notification)
	assert.NotNil(t, resp.Notification.ExpiresAt)
	assert.Equal(t, notification.AlertPayload{Severity: "warning"}, resp.Notification.Payload)
}

func TestPublishEvent(t *testing.T) {
	env := newTestEnv(t)
	body := `{"event":"application.submitted","data":{"applicationId":"a-1","applicantId":"u-9","applicantName":"Kofi"}}`

	rec := env.do(t, http.MethodPost, "/api/events", "member-1", db.RoleMember, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/events", "svc", db.RoleService, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"taskId":"task-1"}`, rec.Body.String())
	require.Len(t, env.queue.requests, 1)
	assert.Equal(t, notification.TypeApplicationSubmitted, env.queue.requests[0].Type)

	rec = env.do(t, http.MethodPost, "/api/events", "svc", db.RoleService, `{"event":"class.cancelled","data":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/events", "svc", db.RoleService, `{"event":"application.submitted","data":{"applicationId":"a-1"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/events/task-1", "admin-a", db.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[handlers.TaskStatus](t, rec)
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, 5, status.MaxRetry)

	rec = env.do(t, http.MethodGet, "/api/events/missing", "admin-a", db.RoleAdmin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)
	signup := `{"email":"ama@example.com","password":"Str0ng!pass","name":"Ama"}`

	rec := env.do(t, http.MethodPost, "/api/auth/signup", "", "", signup)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decodeBody[db.User](t, rec)
	assert.Equal(t, db.RoleMember, user.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = env.do(t, http.MethodPost, "/api/auth/signup", "", "", signup)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/signup", "", "", `{"email":"kojo@example.com","password":"weak","name":"Kojo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/signup", "", "", `{"email":"kojo@mailinator.com","password":"Str0ng!pass","name":"Kojo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", "", `{"email":"ama@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", "", `{"email":"ama@example.com","password":"Str0ng!pass"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[handlers.LoginResponse](t, rec)
	claims, err := env.tokens.ParseToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, db.RoleMember, claims.Role)
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/ws", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.submitApplication(t)

	rec := env.do(t, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notifications_produced_total")
}
