package notification

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"
)

// Payload is the type-specific part of a notification. The concrete shape is
// chosen by the notification type; types without a registered shape carry a
// RawPayload.
type Payload interface {
	payload()
}

type ApplicationPayload struct {
	ApplicationID string `json:"applicationId"`
	ApplicantID   string `json:"applicantId"`
	ApplicantName string `json:"applicantName"`
	Reason        string `json:"reason,omitempty"`
}

type TrainerPayload struct {
	TrainerID   string `json:"trainerId"`
	TrainerName string `json:"trainerName"`
	Reason      string `json:"reason,omitempty"`
}

type OrderPayload struct {
	OrderID      string `json:"orderId"`
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	TotalCents   int64  `json:"totalCents"`
	Currency     string `json:"currency"`
	Items        int    `json:"items"`
}

type MembershipPayload struct {
	MembershipID string     `json:"membershipId"`
	UserID       string     `json:"userId"`
	UserName     string     `json:"userName"`
	PlanName     string     `json:"planName"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

type AlertPayload struct {
	Severity string `json:"severity"`
	Source   string `json:"source,omitempty"`
}

// RawPayload keeps the fields of a payload whose type has no registered
// shape. They are stored and forwarded untouched.
type RawPayload struct {
	Fields json.RawMessage
}

func (ApplicationPayload) payload() {}
func (TrainerPayload) payload()     {}
func (OrderPayload) payload()       {}
func (MembershipPayload) payload()  {}
func (AlertPayload) payload()       {}
func (RawPayload) payload()         {}

func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Fields) == 0 {
		return []byte("{}"), nil
	}
	return p.Fields, nil
}

func (p *RawPayload) UnmarshalJSON(data []byte) error {
	p.Fields = append(p.Fields[:0], data...)
	return nil
}

var payloadTypes = map[NotificationType]func() Payload{
	TypeApplicationSubmitted: func() Payload { return &ApplicationPayload{} },
	TypeApplicationApproved:  func() Payload { return &ApplicationPayload{} },
	TypeApplicationRejected:  func() Payload { return &ApplicationPayload{} },
	TypeTrainerRemoved:       func() Payload { return &TrainerPayload{} },
	TypeOrderCreated:         func() Payload { return &OrderPayload{} },
	TypeMembershipPurchased:  func() Payload { return &MembershipPayload{} },
	TypeSystemAlert:          func() Payload { return &AlertPayload{} },
}

// KnownType reports whether t has a registered payload shape.
func KnownType(t NotificationType) bool {
	_, ok := payloadTypes[t]
	return ok
}

// DecodePayload turns stored or received JSON into the payload shape that
// belongs to t. Values are returned by value, never as pointers.
func DecodePayload(t NotificationType, raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	newPayload, ok := payloadTypes[t]
	if !ok {
		return RawPayload{Fields: append(json.RawMessage(nil), trimmed...)}, nil
	}

	p := newPayload()
	if err := json.Unmarshal(trimmed, p); err != nil {
		return nil, err
	}
	return reflect.ValueOf(p).Elem().Interface().(Payload), nil
}

func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(p)
}

// PayloadMatches reports whether p has the shape registered for t. Unknown
// types accept only RawPayload; a nil payload always matches.
func PayloadMatches(t NotificationType, p Payload) bool {
	if p == nil {
		return true
	}
	pt := reflect.TypeOf(p)
	if pt.Kind() == reflect.Ptr {
		pt = pt.Elem()
	}

	newPayload, ok := payloadTypes[t]
	if !ok {
		return pt == reflect.TypeOf(RawPayload{})
	}
	return reflect.TypeOf(newPayload()).Elem() == pt
}

// normalizePayload dereferences pointer payloads so stored notifications
// always hold values.
func normalizePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return v.Elem().Interface().(Payload)
	}
	return p
}
