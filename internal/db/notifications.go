package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"fitalerts/internal/notification"
)

// NotificationStore keeps notifications in Postgres. Read state lives in
// notification_receipts, one row per recipient.
type NotificationStore struct {
	db *sqlx.DB
}

func NewNotificationStore(db *sqlx.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

type notificationRow struct {
	ID        string         `db:"id"`
	Scope     string         `db:"recipient_scope"`
	UserID    sql.NullString `db:"user_id"`
	Type      string         `db:"type"`
	Title     string         `db:"title"`
	Message   string         `db:"message"`
	Payload   []byte         `db:"payload"`
	CreatedAt time.Time      `db:"created_at"`
	ExpiresAt sql.NullTime   `db:"expires_at"`
	IsRead    bool           `db:"is_read"`
	ReadAt    sql.NullTime   `db:"read_at"`
}

func (r notificationRow) toNotification() (*notification.Notification, error) {
	t := notification.NotificationType(r.Type)
	payload, err := notification.DecodePayload(t, r.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", r.ID, err)
	}

	n := &notification.Notification{
		ID:        r.ID,
		Scope:     notification.Scope(r.Scope),
		UserID:    r.UserID.String,
		Type:      t,
		Title:     r.Title,
		Message:   r.Message,
		Payload:   payload,
		IsRead:    r.IsRead,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.ReadAt.Valid {
		readAt := r.ReadAt.Time.UTC()
		n.ReadAt = &readAt
	}
	if r.ExpiresAt.Valid {
		expiresAt := r.ExpiresAt.Time.UTC()
		n.ExpiresAt = &expiresAt
	}
	return n, nil
}

func (s *NotificationStore) Create(ctx context.Context, n *notification.Notification, recipients []string) error {
	payload, err := notification.EncodePayload(n.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	var userID, expiresAt interface{}
	if n.UserID != "" {
		userID = n.UserID
	}
	if n.ExpiresAt != nil {
		expiresAt = *n.ExpiresAt
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_scope, user_id, type, title, message, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, string(n.Scope), userID, string(n.Type), n.Title, n.Message, []byte(payload), n.CreatedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", recipientError(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notification_receipts (notification_id, user_id)
		SELECT $1, unnest($2::uuid[])
	`, n.ID, pq.Array(recipients))
	if err != nil {
		return fmt.Errorf("failed to insert receipts: %w", recipientError(err))
	}

	return tx.Commit()
}

// recipientError marks unknown or malformed user ids as invalid requests so
// queued production does not retry them.
func recipientError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503", "22P02": // foreign_key_violation, invalid_text_representation
			return fmt.Errorf("%w: %s", notification.ErrInvalidRequest, pqErr.Message)
		}
	}
	return err
}

const selectVisible = `
	SELECT n.id, n.recipient_scope, n.user_id, n.type, n.title, n.message, n.payload,
	       n.created_at, n.expires_at, r.is_read, r.read_at
	FROM notification_receipts r
	JOIN notifications n ON n.id = r.notification_id`

// visibleWhere is shared by List and Stats so both see the same set.
func visibleWhere(userID string, includeAdmin bool, now time.Time) ([]string, []interface{}) {
	conds := []string{"r.user_id = $1", "(n.expires_at IS NULL OR n.expires_at > $2)"}
	args := []interface{}{userID, now}
	if !includeAdmin {
		args = append(args, string(notification.ScopeUser))
		conds = append(conds, fmt.Sprintf("n.recipient_scope = $%d", len(args)))
	}
	return conds, args
}

func (s *NotificationStore) List(ctx context.Context, filter notification.Filter, now time.Time) ([]*notification.Notification, error) {
	conds, args := visibleWhere(filter.UserID, filter.IncludeAdmin, now)
	if filter.UnreadOnly {
		conds = append(conds, "r.is_read = FALSE")
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("n.type = $%d", len(args)))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf("%s\n\tWHERE %s\n\tORDER BY n.created_at DESC, n.id DESC\n\tLIMIT $%d",
		selectVisible, strings.Join(conds, " AND "), len(args))

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]*notification.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toNotification()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead skips ids that are not UUIDs; no notification can have them.
func (s *NotificationStore) MarkRead(ctx context.Context, userID string, ids []string, at time.Time) (int64, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_receipts
		SET is_read = TRUE, read_at = $3
		WHERE user_id = $1 AND notification_id = ANY($2::uuid[]) AND is_read = FALSE
	`, userID, pq.Array(valid), at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_receipts
		SET is_read = TRUE, read_at = $2
		WHERE user_id = $1 AND is_read = FALSE
	`, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *NotificationStore) Stats(ctx context.Context, userID string, includeAdmin bool, now time.Time) (*notification.Stats, error) {
	conds, args := visibleWhere(userID, includeAdmin, now)
	query := `
	SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE NOT r.is_read) AS unread
	FROM notification_receipts r
	JOIN notifications n ON n.id = r.notification_id
	WHERE ` + strings.Join(conds, " AND ")

	stats := &notification.Stats{}
	if err := s.db.GetContext(ctx, stats, query, args...); err != nil {
		return nil, err
	}
	return stats, nil
}

// DeleteExpired relies on ON DELETE CASCADE to drop the receipts.
func (s *NotificationStore) DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	query := "DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= $1"
	args := []interface{}{now}
	if !createdBefore.IsZero() {
		query += " OR created_at < $2"
		args = append(args, createdBefore)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
