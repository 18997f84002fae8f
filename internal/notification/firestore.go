package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const (
	notificationsCollection = "notifications"
	receiptsCollection      = "notification_receipts"
)

// FirestoreStore keeps notifications in one collection and per-recipient
// receipts in another. Receipts carry a copy of the fields recipients filter
// and sort on.
type FirestoreStore struct {
	db *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{db: client}
}

type notificationDoc struct {
	ID        string                 `firestore:"id"`
	Scope     string                 `firestore:"scope"`
	UserID    string                 `firestore:"user_id"`
	Type      string                 `firestore:"type"`
	Title     string                 `firestore:"title"`
	Message   string                 `firestore:"message"`
	Payload   map[string]interface{} `firestore:"payload"`
	CreatedAt time.Time              `firestore:"created_at"`
	ExpiresAt *time.Time             `firestore:"expires_at"`
}

type receiptDoc struct {
	NotificationID string     `firestore:"notification_id"`
	UserID         string     `firestore:"user_id"`
	Scope          string     `firestore:"scope"`
	Type           string     `firestore:"type"`
	IsRead         bool       `firestore:"is_read"`
	ReadAt         *time.Time `firestore:"read_at"`
	CreatedAt      time.Time  `firestore:"created_at"`
	ExpiresAt      *time.Time `firestore:"expires_at"`
}

func receiptID(notificationID, userID string) string {
	return notificationID + "_" + userID
}

func toNotificationDoc(n *Notification) (*notificationDoc, error) {
	raw, err := EncodePayload(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	return &notificationDoc{
		ID:        n.ID,
		Scope:     string(n.Scope),
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Payload:   fields,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	}, nil
}

func fromDocs(doc *notificationDoc, receipt *receiptDoc) (*Notification, error) {
	raw, err := json.Marshal(doc.Payload)
	if err != nil {
		return nil, err
	}
	payload, err := DecodePayload(NotificationType(doc.Type), raw)
	if err != nil {
		return nil, err
	}

	return &Notification{
		ID:        doc.ID,
		Scope:     Scope(doc.Scope),
		UserID:    doc.UserID,
		Type:      NotificationType(doc.Type),
		Title:     doc.Title,
		Message:   doc.Message,
		Payload:   payload,
		IsRead:    receipt.IsRead,
		ReadAt:    receipt.ReadAt,
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
	}, nil
}

func expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !now.Before(*expiresAt)
}

func (s *FirestoreStore) Create(ctx context.Context, n *Notification, recipients []string) error {
	doc, err := toNotificationDoc(n)
	if err != nil {
		return err
	}

	return s.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(s.db.Collection(notificationsCollection).Doc(n.ID), doc); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		for _, userID := range recipients {
			receipt := &receiptDoc{
				NotificationID: n.ID,
				UserID:         userID,
				Scope:          doc.Scope,
				Type:           doc.Type,
				CreatedAt:      n.CreatedAt,
				ExpiresAt:      n.ExpiresAt,
			}
			ref := s.db.Collection(receiptsCollection).Doc(receiptID(n.ID, userID))
			if err := tx.Create(ref, receipt); err != nil {
				return fmt.Errorf("failed to create receipt: %w", err)
			}
		}
		return nil
	})
}

func (s *FirestoreStore) recipientQuery(userID string, includeAdmin bool) firestore.Query {
	query := s.db.Collection(receiptsCollection).Where("user_id", "==", userID)
	if !includeAdmin {
		query = query.Where("scope", "==", string(ScopeUser))
	}
	return query
}

func (s *FirestoreStore) List(ctx context.Context, filter Filter, now time.Time) ([]*Notification, error) {
	query := s.recipientQuery(filter.UserID, filter.IncludeAdmin)
	if filter.UnreadOnly {
		query = query.Where("is_read", "==", false)
	}
	if filter.Type != "" {
		query = query.Where("type", "==", string(filter.Type))
	}
	// expired receipts are skipped client side, so the limit is applied
	// while reading rather than in the query
	query = query.OrderBy("created_at", firestore.Desc).OrderBy("notification_id", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	receipts, err := visibleReceipts(func() (*receiptDoc, error) {
		snap, err := iter.Next()
		if err != nil {
			return nil, err
		}
		var receipt receiptDoc
		if err := snap.DataTo(&receipt); err != nil {
			return nil, fmt.Errorf("failed to parse receipt: %w", err)
		}
		return &receipt, nil
	}, filter.Limit, now)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(receipts))
	for _, receipt := range receipts {
		refs = append(refs, s.db.Collection(notificationsCollection).Doc(receipt.NotificationID))
	}
	if len(refs) == 0 {
		return []*Notification{}, nil
	}

	snaps, err := s.db.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}

	result := make([]*Notification, 0, len(snaps))
	for i, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc notificationDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse notification: %w", err)
		}
		n, err := fromDocs(&doc, receipts[i])
		if err != nil {
			slog.Warn("skipping unreadable notification", "notification_id", doc.ID, "error", err)
			continue
		}
		result = append(result, n)
	}

	SortNewestFirst(result)
	return result, nil
}

// visibleReceipts reads receipts until next reports iterator.Done or limit
// unexpired ones were collected. A limit of zero reads everything.
func visibleReceipts(next func() (*receiptDoc, error), limit int, now time.Time) ([]*receiptDoc, error) {
	var receipts []*receiptDoc
	for limit <= 0 || len(receipts) < limit {
		receipt, err := next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get receipts: %w", err)
		}
		if expired(receipt.ExpiresAt, now) {
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func (s *FirestoreStore) MarkRead(ctx context.Context, userID string, ids []string, at time.Time) (int64, error) {
	var updated int64
	err := s.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		updated = 0
		refs := make([]*firestore.DocumentRef, 0, len(ids))
		for _, id := range ids {
			refs = append(refs, s.db.Collection(receiptsCollection).Doc(receiptID(id, userID)))
		}

		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for i, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			read, err := snap.DataAt("is_read")
			if err != nil {
				return err
			}
			if isRead, _ := read.(bool); isRead {
				continue
			}
			if err := tx.Update(refs[i], []firestore.Update{
				{Path: "is_read", Value: true},
				{Path: "read_at", Value: at},
			}); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	return updated, nil
}

func (s *FirestoreStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	var updated int64
	err := s.db.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		updated = 0
		query := s.db.Collection(receiptsCollection).
			Where("user_id", "==", userID).
			Where("is_read", "==", false)

		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "is_read", Value: true},
				{Path: "read_at", Value: at},
			}); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return updated, nil
}

func (s *FirestoreStore) Stats(ctx context.Context, userID string, includeAdmin bool, now time.Time) (*Stats, error) {
	iter := s.recipientQuery(userID, includeAdmin).Documents(ctx)
	defer iter.Stop()

	stats := &Stats{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error occurred fetching notification stats: %w", err)
		}

		var receipt receiptDoc
		if err := snap.DataTo(&receipt); err != nil {
			slog.Warn("failed to parse receipt in stats", "doc_id", snap.Ref.ID, "error", err)
			continue
		}
		if expired(receipt.ExpiresAt, now) {
			continue
		}

		stats.Total++
		if !receipt.IsRead {
			stats.Unread++
		}
	}

	return stats, nil
}

func (s *FirestoreStore) DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	queries := []firestore.Query{
		s.db.Collection(notificationsCollection).Where("expires_at", "<=", now),
	}
	if !createdBefore.IsZero() {
		queries = append(queries, s.db.Collection(notificationsCollection).Where("created_at", "<", createdBefore))
	}

	bulkWriter := s.db.BulkWriter(ctx)
	defer bulkWriter.End()

	seen := map[string]struct{}{}
	for _, query := range queries {
		iter := query.Documents(ctx)
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				return 0, fmt.Errorf("failed to get expired notifications: %w", err)
			}
			if _, ok := seen[snap.Ref.ID]; ok {
				continue
			}
			seen[snap.Ref.ID] = struct{}{}

			if err := s.deleteReceipts(ctx, bulkWriter, snap.Ref.ID); err != nil {
				iter.Stop()
				return 0, err
			}
			if _, err := bulkWriter.Delete(snap.Ref); err != nil {
				iter.Stop()
				return 0, fmt.Errorf("failed to add delete to bulk writer: %w", err)
			}
		}
		iter.Stop()
	}

	bulkWriter.Flush()
	return int64(len(seen)), nil
}

func (s *FirestoreStore) deleteReceipts(ctx context.Context, bulkWriter *firestore.BulkWriter, notificationID string) error {
	iter := s.db.Collection(receiptsCollection).Where("notification_id", "==", notificationID).Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get receipts: %w", err)
		}
		if _, err := bulkWriter.Delete(snap.Ref); err != nil {
			return fmt.Errorf("failed to add delete to bulk writer: %w", err)
		}
	}
}
