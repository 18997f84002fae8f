package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	TypeApplicationSubmitted NotificationType = "application_submitted"
	TypeApplicationApproved  NotificationType = "application_approved"
	TypeApplicationRejected  NotificationType = "application_rejected"
	TypeTrainerRemoved       NotificationType = "trainer_removed"
	TypeOrderCreated         NotificationType = "order_created"
	TypeMembershipPurchased  NotificationType = "membership_purchased"
	TypeSystemAlert          NotificationType = "system_alert"
)

// Scope decides who can see a notification.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeAdmins Scope = "admins"
)

func (s Scope) Valid() bool {
	return s == ScopeUser || s == ScopeAdmins
}

// Notification is one recipient's view of a stored notification. IsRead and
// ReadAt come from that recipient's receipt; everything else is shared and
// immutable once created.
type Notification struct {
	ID        string           `json:"id"`
	Scope     Scope            `json:"recipientScope"`
	UserID    string           `json:"userId,omitempty"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Payload   Payload          `json:"payload"`
	IsRead    bool             `json:"isRead"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

type notificationJSON struct {
	ID        string           `json:"id"`
	Scope     Scope            `json:"recipientScope"`
	UserID    string           `json:"userId,omitempty"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Payload   json.RawMessage  `json:"payload"`
	IsRead    bool             `json:"isRead"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	raw, err := EncodePayload(n.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(notificationJSON{
		ID:        n.ID,
		Scope:     n.Scope,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Payload:   raw,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	})
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	var aux notificationJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := DecodePayload(aux.Type, aux.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode payload for %s: %w", aux.Type, err)
	}
	*n = Notification{
		ID:        aux.ID,
		Scope:     aux.Scope,
		UserID:    aux.UserID,
		Type:      aux.Type,
		Title:     aux.Title,
		Message:   aux.Message,
		Payload:   payload,
		IsRead:    aux.IsRead,
		ReadAt:    aux.ReadAt,
		CreatedAt: aux.CreatedAt,
		ExpiresAt: aux.ExpiresAt,
	}
	return nil
}

// Clone returns a copy that can be mutated without touching the original.
// Payloads are treated as immutable values and are shared.
func (n *Notification) Clone() *Notification {
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Request is what a business action hands to the producer.
type Request struct {
	Type    NotificationType
	Scope   Scope
	UserID  string
	Title   string
	Message string
	Payload Payload
	TTL     *time.Duration
}

// Delivery is a freshly stored notification together with the recipients it
// was fanned out to.
type Delivery struct {
	Recipients   []string      `json:"recipients"`
	Notification *Notification `json:"notification"`
}

type Filter struct {
	UserID       string
	IncludeAdmin bool
	UnreadOnly   bool
	Type         NotificationType
	Limit        int
}

type Backlog struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unreadCount"`
}

type Stats struct {
	Total  int `json:"total" db:"total"`
	Unread int `json:"unread" db:"unread"`
}
