package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fitalerts/internal/metrics"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Service is the producer and the read-state API on top of a Store.
type Service struct {
	store      Store
	directory  Directory
	publishers []Publisher
	retention  time.Duration
	now        func() time.Time
	newID      func() string
}

type Option func(*Service)

func WithPublishers(publishers ...Publisher) Option {
	return func(s *Service) {
		s.publishers = append(s.publishers, publishers...)
	}
}

// WithRetention makes Cleanup also drop notifications older than d.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		s.retention = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

func NewService(store Store, directory Directory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Produce stores one notification with a receipt per resolved recipient and
// then hands it to every publisher. Nothing is published unless the write
// succeeded. A nil delivery with a nil error means no recipient resolved.
func (s *Service) Produce(ctx context.Context, req *Request) (*Delivery, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	recipients, err := s.resolveRecipients(ctx, req)
	if err != nil {
		metrics.ProduceFailures.WithLabelValues(string(req.Type)).Inc()
		return nil, err
	}
	if len(recipients) == 0 {
		slog.Info("no recipients resolved for notification", "type", req.Type, "scope", req.Scope)
		return nil, nil
	}

	now := s.now().UTC()
	n := &Notification{
		ID:        s.newID(),
		Scope:     req.Scope,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Payload:   normalizePayload(req.Payload),
		CreatedAt: now,
	}
	if req.Scope == ScopeUser {
		n.UserID = req.UserID
	}
	if n.Payload == nil {
		n.Payload, _ = DecodePayload(req.Type, nil)
	}
	if req.TTL != nil {
		expiresAt := now.Add(*req.TTL)
		n.ExpiresAt = &expiresAt
	}

	if err := s.store.Create(ctx, n, recipients); err != nil {
		metrics.ProduceFailures.WithLabelValues(string(req.Type)).Inc()
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}
	metrics.NotificationsProduced.WithLabelValues(string(req.Type), string(req.Scope)).Inc()

	delivery := &Delivery{Recipients: recipients, Notification: n}
	s.publish(ctx, delivery)
	return delivery, nil
}

// Notify is Produce for callers that must not fail because of a
// notification: errors are logged and dropped.
func (s *Service) Notify(ctx context.Context, req *Request) {
	if _, err := s.Produce(ctx, req); err != nil {
		slog.Error("failed to produce notification",
			"type", req.Type,
			"scope", req.Scope,
			"user_id", req.UserID,
			"error", err)
	}
}

func (s *Service) Backlog(ctx context.Context, filter Filter) (*Backlog, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}

	notifications, err := s.store.List(ctx, filter, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	if notifications == nil {
		notifications = []*Notification{}
	}

	return &Backlog{
		Notifications: notifications,
		UnreadCount:   CountUnread(notifications),
	}, nil
}

// MarkRead is idempotent: ids that are already read, or not visible to
// userID, are left alone and not reported as errors.
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	updated, err := s.store.MarkRead(ctx, userID, ids, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	metrics.ReadMutations.WithLabelValues("ids").Add(float64(updated))
	return updated, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	updated, err := s.store.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	metrics.ReadMutations.WithLabelValues("all").Add(float64(updated))
	return updated, nil
}

func (s *Service) Stats(ctx context.Context, userID string, includeAdmin bool) (*Stats, error) {
	stats, err := s.store.Stats(ctx, userID, includeAdmin, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get notification stats: %w", err)
	}
	return stats, nil
}

// Cleanup deletes expired notifications and, with a retention window
// configured, everything older than it.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	var createdBefore time.Time
	if s.retention > 0 {
		createdBefore = now.Add(-s.retention)
	}

	deleted, err := s.store.DeleteExpired(ctx, now, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up notifications: %w", err)
	}
	return deleted, nil
}

func (s *Service) resolveRecipients(ctx context.Context, req *Request) ([]string, error) {
	switch req.Scope {
	case ScopeUser:
		return []string{req.UserID}, nil
	case ScopeAdmins:
		// resolved per event so role changes take effect immediately
		admins, err := s.directory.AdminIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve admins: %w", err)
		}
		return dedupe(admins), nil
	default:
		return nil, ErrUnknownScope
	}
}

func (s *Service) publish(ctx context.Context, d *Delivery) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, d); err != nil {
			slog.Warn("failed to publish notification",
				"notification_id", d.Notification.ID,
				"recipients", len(d.Recipients),
				"error", err)
		}
	}
}

func validateRequest(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if !req.Scope.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownScope, req.Scope)
	}
	if req.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidRequest)
	}
	if req.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if req.Scope == ScopeUser && req.UserID == "" {
		return fmt.Errorf("%w: user id is required for user scope", ErrInvalidRequest)
	}
	if req.TTL != nil && *req.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	}
	if !PayloadMatches(req.Type, req.Payload) {
		return fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, req.Type, req.Payload)
	}
	return nil
}

// CountUnread counts the unread entries of a visible list.
func CountUnread(notifications []*Notification) int {
	unread := 0
	for _, n := range notifications {
		if !n.IsRead {
			unread++
		}
	}
	return unread
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
