// Package events turns business facts into notification requests so that
// callers never hand-build titles, scopes or payloads.
package events

import (
	"fmt"
	"strings"
	"time"

	"fitalerts/internal/notification"
)

type Application struct {
	ApplicationID string `json:"applicationId" validate:"required"`
	ApplicantID   string `json:"applicantId" validate:"required"`
	ApplicantName string `json:"applicantName" validate:"required"`
}

type Trainer struct {
	TrainerID   string `json:"trainerId" validate:"required"`
	TrainerName string `json:"trainerName" validate:"required"`
}

type Order struct {
	OrderID      string `json:"orderId" validate:"required"`
	CustomerID   string `json:"customerId" validate:"required"`
	CustomerName string `json:"customerName" validate:"required"`
	TotalCents   int64  `json:"totalCents" validate:"gte=0"`
	Currency     string `json:"currency" validate:"required,len=3"`
	Items        int    `json:"items" validate:"gte=1"`
}

type Membership struct {
	MembershipID string     `json:"membershipId" validate:"required"`
	UserID       string     `json:"userId" validate:"required"`
	UserName     string     `json:"userName" validate:"required"`
	PlanName     string     `json:"planName" validate:"required"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

type Alert struct {
	Title    string `json:"title" validate:"required,max=200"`
	Message  string `json:"message" validate:"max=2000"`
	Severity string `json:"severity" validate:"required,oneof=info warning critical"`
	Source   string `json:"source"`
	// TTLSeconds, when set, makes the alert expire.
	TTLSeconds int64 `json:"ttlSeconds,omitempty" validate:"gte=0"`
}

// ApplicationSubmitted tells every admin a trainer application is waiting.
func ApplicationSubmitted(a Application) *notification.Request {
	return &notification.Request{
		Type:    notification.TypeApplicationSubmitted,
		Scope:   notification.ScopeAdmins,
		Title:   "New trainer application",
		Message: fmt.Sprintf("%s applied to become a trainer", a.ApplicantName),
		Payload: notification.ApplicationPayload{
			ApplicationID: a.ApplicationID,
			ApplicantID:   a.ApplicantID,
			ApplicantName: a.ApplicantName,
		},
	}
}

func ApplicationApproved(a Application) *notification.Request {
	return &notification.Request{
		Type:    notification.TypeApplicationApproved,
		Scope:   notification.ScopeUser,
		UserID:  a.ApplicantID,
		Title:   "Application approved",
		Message: "Your trainer application has been approved. Welcome to the team!",
		Payload: notification.ApplicationPayload{
			ApplicationID: a.ApplicationID,
			ApplicantID:   a.ApplicantID,
			ApplicantName: a.ApplicantName,
		},
	}
}

func ApplicationRejected(a Application, reason string) *notification.Request {
	message := "Your trainer application was not approved."
	if reason = strings.TrimSpace(reason); reason != "" {
		message += " Reason: " + reason
	}
	return &notification.Request{
		Type:    notification.TypeApplicationRejected,
		Scope:   notification.ScopeUser,
		UserID:  a.ApplicantID,
		Title:   "Application rejected",
		Message: message,
		Payload: notification.ApplicationPayload{
			ApplicationID: a.ApplicationID,
			ApplicantID:   a.ApplicantID,
			ApplicantName: a.ApplicantName,
			Reason:        reason,
		},
	}
}

// TrainerRemoved notifies the trainer who lost the role.
func TrainerRemoved(t Trainer, reason string) *notification.Request {
	message := "You have been removed from the trainer team."
	if reason = strings.TrimSpace(reason); reason != "" {
		message += " Reason: " + reason
	}
	return &notification.Request{
		Type:    notification.TypeTrainerRemoved,
		Scope:   notification.ScopeUser,
		UserID:  t.TrainerID,
		Title:   "Trainer role removed",
		Message: message,
		Payload: notification.TrainerPayload{
			TrainerID:   t.TrainerID,
			TrainerName: t.TrainerName,
			Reason:      reason,
		},
	}
}

func OrderCreated(o Order) *notification.Request {
	return &notification.Request{
		Type:    notification.TypeOrderCreated,
		Scope:   notification.ScopeAdmins,
		Title:   "New shop order",
		Message: fmt.Sprintf("%s placed an order of %d item(s) totalling %s", o.CustomerName, o.Items, FormatAmount(o.TotalCents, o.Currency)),
		Payload: notification.OrderPayload{
			OrderID:      o.OrderID,
			CustomerID:   o.CustomerID,
			CustomerName: o.CustomerName,
			TotalCents:   o.TotalCents,
			Currency:     strings.ToUpper(o.Currency),
			Items:        o.Items,
		},
	}
}

func MembershipPurchased(m Membership) *notification.Request {
	return &notification.Request{
		Type:    notification.TypeMembershipPurchased,
		Scope:   notification.ScopeAdmins,
		Title:   "New membership",
		Message: fmt.Sprintf("%s purchased the %s plan", m.UserName, m.PlanName),
		Payload: notification.MembershipPayload{
			MembershipID: m.MembershipID,
			UserID:       m.UserID,
			UserName:     m.UserName,
			PlanName:     m.PlanName,
			ExpiresAt:    m.ExpiresAt,
		},
	}
}

func SystemAlert(a Alert) *notification.Request {
	req := &notification.Request{
		Type:    notification.TypeSystemAlert,
		Scope:   notification.ScopeAdmins,
		Title:   a.Title,
		Message: a.Message,
		Payload: notification.AlertPayload{Severity: a.Severity, Source: a.Source},
	}
	if a.TTLSeconds > 0 {
		ttl := time.Duration(a.TTLSeconds) * time.Second
		req.TTL = &ttl
	}
	return req
}

// FormatAmount renders minor units as "12.50 USD".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}
