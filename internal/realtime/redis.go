package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"fitalerts/internal/notification"
)

// RedisBroker fans deliveries out to every instance through a pub/sub
// channel. Each instance runs Run to feed its own hub.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

func NewRedisBroker(client *redis.Client, channel string, hub *Hub) *RedisBroker {
	return &RedisBroker{client: client, channel: channel, hub: hub}
}

func (b *RedisBroker) Publish(ctx context.Context, d *notification.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}
	return nil
}

// Run blocks until ctx is done. ready, if not nil, is closed once the
// subscription is confirmed.
func (b *RedisBroker) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	slog.Info("Subscribed to realtime channel", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d notification.Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				slog.Error("failed to decode realtime delivery", "error", err)
				continue
			}
			if _, err := b.hub.Deliver(&d); err != nil {
				slog.Error("failed to deliver realtime notification", "error", err)
			}
		}
	}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
