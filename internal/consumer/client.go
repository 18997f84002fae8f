package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fitalerts/internal/notification"
	"fitalerts/internal/realtime"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// APIError is a non-2xx answer from the notifications API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notifications api: %d %s", e.Status, e.Message)
}

// Client talks to the notifications API on behalf of one signed-in user.
type Client struct {
	base       *url.URL
	token      string
	userID     string
	adminFeed  bool
	limit      int
	http       *http.Client
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAdminFeed includes broadcasts to admins in the backlog.
func WithAdminFeed(enabled bool) ClientOption {
	return func(c *Client) {
		c.adminFeed = enabled
	}
}

func WithLimit(limit int) ClientOption {
	return func(c *Client) {
		c.limit = limit
	}
}

func WithBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		c.minBackoff = min
		c.maxBackoff = max
	}
}

func NewClient(baseURL, token, userID string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", base.Scheme)
	}

	c := &Client{
		base:       base,
		token:      token,
		userID:     userID,
		http:       &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = c.base.Path + path
	return &u
}

func (c *Client) Fetch(ctx context.Context) (*notification.Backlog, error) {
	u := c.endpoint("/api/notifications")
	q := url.Values{}
	q.Set("userId", c.userID)
	q.Set("isAdmin", strconv.FormatBool(c.adminFeed))
	if c.limit > 0 {
		q.Set("limit", strconv.Itoa(c.limit))
	}
	u.RawQuery = q.Encode()

	var backlog notification.Backlog
	if err := c.do(ctx, http.MethodGet, u.String(), nil, &backlog); err != nil {
		return nil, err
	}
	if backlog.Notifications == nil {
		backlog.Notifications = []*notification.Notification{}
	}
	return &backlog, nil
}

type markReadBody struct {
	NotificationIDs []string `json:"notificationIds,omitempty"`
	UserID          string   `json:"userId,omitempty"`
	MarkAllAsRead   bool     `json:"markAllAsRead,omitempty"`
	IsAdmin         bool     `json:"isAdmin"`
}

func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPatch, c.endpoint("/api/notifications").String(),
		markReadBody{NotificationIDs: ids, IsAdmin: c.adminFeed}, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, c.endpoint("/api/notifications").String(),
		markReadBody{UserID: c.userID, MarkAllAsRead: true, IsAdmin: c.adminFeed}, nil)
}

func (c *Client) do(ctx context.Context, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// Subscription is one live realtime connection.
type Subscription struct {
	conn *websocket.Conn
}

// Subscribe opens the realtime connection. The token goes in the
// Authorization header.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	u := c.endpoint("/api/ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return nil, err
	}
	return &Subscription{conn: conn}, nil
}

// Next blocks until the next notification frame arrives. Frames of other
// events are skipped.
func (s *Subscription) Next() (*notification.Notification, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var frame realtime.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("dropping malformed frame", "error", err)
			continue
		}
		if frame.Event != realtime.EventNotification {
			continue
		}

		var n notification.Notification
		if err := json.Unmarshal(frame.Data, &n); err != nil {
			slog.Warn("dropping undecodable notification", "error", err)
			continue
		}
		return &n, nil
	}
}

func (s *Subscription) Close() error {
	return s.conn.Close()
}

// Run keeps a realtime connection open for d until ctx is done. After every
// (re)connect the backlog is pulled again, since missed pushes are never
// replayed. Failed connects back off exponentially.
func (c *Client) Run(ctx context.Context, d *Dropdown) error {
	backoff := c.minBackoff
	for {
		sub, err := c.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("realtime connect failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff

		if err := d.Refresh(ctx); err != nil {
			slog.Warn("backlog refresh after connect failed", "error", err)
		}

		err = c.pump(ctx, sub, d)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Info("realtime connection lost", "error", err)
	}
}

func (c *Client) pump(ctx context.Context, sub *Subscription, d *Dropdown) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	defer sub.Close()

	for {
		n, err := sub.Next()
		if err != nil {
			return err
		}
		d.Push(n)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
