package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"fitalerts/internal/notification"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidEvent = errors.New("invalid event data")
)

const (
	EventApplicationSubmitted = "application.submitted"
	EventApplicationApproved  = "application.approved"
	EventApplicationRejected  = "application.rejected"
	EventTrainerRemoved       = "trainer.removed"
	EventOrderCreated         = "order.created"
	EventMembershipPurchased  = "membership.purchased"
	EventSystemAlert          = "system.alert"
)

// Envelope is the wire form of a business event.
type Envelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data" validate:"required"`
}

type rejection struct {
	Application
	Reason string `json:"reason"`
}

type removal struct {
	Trainer
	Reason string `json:"reason"`
}

type builder func(data json.RawMessage) (*notification.Request, error)

var validate = validator.New()

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return v, nil
}

var builders = map[string]builder{
	EventApplicationSubmitted: func(data json.RawMessage) (*notification.Request, error) {
		a, err := decode[Application](data)
		if err != nil {
			return nil, err
		}
		return ApplicationSubmitted(a), nil
	},
	EventApplicationApproved: func(data json.RawMessage) (*notification.Request, error) {
		a, err := decode[Application](data)
		if err != nil {
			return nil, err
		}
		return ApplicationApproved(a), nil
	},
	EventApplicationRejected: func(data json.RawMessage) (*notification.Request, error) {
		r, err := decode[rejection](data)
		if err != nil {
			return nil, err
		}
		return ApplicationRejected(r.Application, r.Reason), nil
	},
	EventTrainerRemoved: func(data json.RawMessage) (*notification.Request, error) {
		r, err := decode[removal](data)
		if err != nil {
			return nil, err
		}
		return TrainerRemoved(r.Trainer, r.Reason), nil
	},
	EventOrderCreated: func(data json.RawMessage) (*notification.Request, error) {
		o, err := decode[Order](data)
		if err != nil {
			return nil, err
		}
		return OrderCreated(o), nil
	},
	EventMembershipPurchased: func(data json.RawMessage) (*notification.Request, error) {
		m, err := decode[Membership](data)
		if err != nil {
			return nil, err
		}
		return MembershipPurchased(m), nil
	},
	EventSystemAlert: func(data json.RawMessage) (*notification.Request, error) {
		a, err := decode[Alert](data)
		if err != nil {
			return nil, err
		}
		return SystemAlert(a), nil
	},
}

// Build validates an event and returns the request it produces.
func Build(env Envelope) (*notification.Request, error) {
	b, ok := builders[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return b(env.Data)
}

func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
