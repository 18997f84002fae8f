package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memReceipt struct {
	isRead bool
	readAt *time.Time
}

// MemoryStore is an in-process Store for tests and single-node demos.
type MemoryStore struct {
	mu            sync.Mutex
	notifications map[string]*Notification
	receipts      map[string]map[string]*memReceipt // user id -> notification id
	createErr     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[string]*Notification),
		receipts:      make(map[string]map[string]*memReceipt),
	}
}

// FailCreates makes every following Create return err; nil restores it.
func (s *MemoryStore) FailCreates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *MemoryStore) Create(_ context.Context, n *Notification, recipients []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s already exists", n.ID)
	}

	stored := n.Clone()
	stored.IsRead = false
	stored.ReadAt = nil
	s.notifications[n.ID] = stored

	for _, userID := range recipients {
		set, ok := s.receipts[userID]
		if !ok {
			set = make(map[string]*memReceipt)
			s.receipts[userID] = set
		}
		set[n.ID] = &memReceipt{}
	}
	return nil
}

func (s *MemoryStore) visible(userID string, includeAdmin bool, now time.Time) []*Notification {
	out := make([]*Notification, 0, len(s.receipts[userID]))
	for id, r := range s.receipts[userID] {
		n := s.notifications[id]
		if n == nil {
			continue
		}
		if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			continue
		}
		if !includeAdmin && n.Scope != ScopeUser {
			continue
		}
		view := n.Clone()
		view.IsRead = r.isRead
		if r.readAt != nil {
			t := *r.readAt
			view.ReadAt = &t
		}
		out = append(out, view)
	}
	SortNewestFirst(out)
	return out
}

func (s *MemoryStore) List(_ context.Context, filter Filter, now time.Time) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.visible(filter.UserID, filter.IncludeAdmin, now)
	out := make([]*Notification, 0, len(all))
	for _, n := range all {
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		out = append(out, n)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID string, ids []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, id := range ids {
		r, ok := s.receipts[userID][id]
		if !ok || r.isRead {
			continue
		}
		readAt := at
		r.isRead = true
		r.readAt = &readAt
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, r := range s.receipts[userID] {
		if r.isRead {
			continue
		}
		readAt := at
		r.isRead = true
		r.readAt = &readAt
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) Stats(_ context.Context, userID string, includeAdmin bool, now time.Time) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.visible(userID, includeAdmin, now)
	return &Stats{Total: len(all), Unread: CountUnread(all)}, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now, createdBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, n := range s.notifications {
		expired := n.ExpiresAt != nil && !n.ExpiresAt.After(now)
		old := !createdBefore.IsZero() && n.CreatedAt.Before(createdBefore)
		if !expired && !old {
			continue
		}
		delete(s.notifications, id)
		for _, set := range s.receipts {
			delete(set, id)
		}
		deleted++
	}
	return deleted, nil
}

// SortNewestFirst orders by creation time, then id, both descending.
func SortNewestFirst(list []*Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
