package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"fitalerts/internal/metrics"
	"fitalerts/internal/notification"
)

const EventNotification = "notification"

// Frame is the envelope of every server to client message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client is one live connection. Frames queue in send and are written by a
// single goroutine, so a client sees them in the order they were delivered.
type Client struct {
	UserID string
	send   chan []byte
}

// Frames is the client's outbound queue. It is closed when the hub drops
// the client.
func (c *Client) Frames() <-chan []byte {
	return c.send
}

// Hub tracks live connections by user and pushes deliveries to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	deliverMu  sync.Mutex
	bufferSize int
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		bufferSize: bufferSize,
	}
}

func (h *Hub) Register(userID string) *Client {
	c := &Client{UserID: userID, send: make(chan []byte, h.bufferSize)}

	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	metrics.RealtimeConnections.Inc()
	slog.Debug("realtime client registered", "user_id", userID)
	return c
}

// Unregister is safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.send)
	metrics.RealtimeConnections.Dec()
}

// Deliver pushes d to every live connection of its recipients and returns
// how many connections accepted it. Deliveries are serialized so every
// connection observes the same order. A connection whose buffer is full is
// dropped. It recovers by reconnecting and pulling the backlog.
func (h *Hub) Deliver(d *notification.Delivery) (int, error) {
	if d == nil || d.Notification == nil {
		return 0, nil
	}
	data, err := json.Marshal(d.Notification)
	if err != nil {
		return 0, fmt.Errorf("failed to encode notification: %w", err)
	}
	frame, err := json.Marshal(Frame{Event: EventNotification, Data: data})
	if err != nil {
		return 0, fmt.Errorf("failed to encode frame: %w", err)
	}

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	delivered := 0
	var slow []*Client

	h.mu.RLock()
	for _, userID := range d.Recipients {
		for c := range h.clients[userID] {
			select {
			case c.send <- frame:
				delivered++
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	metrics.RealtimeDeliveries.WithLabelValues("delivered").Add(float64(delivered))

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.removeLocked(c)
		}
		h.mu.Unlock()
		metrics.RealtimeDeliveries.WithLabelValues("evicted").Add(float64(len(slow)))
		slog.Warn("dropped slow realtime clients",
			"notification_id", d.Notification.ID,
			"count", len(slow))
	}

	return delivered, nil
}

// Publish lets the hub act as the in-process publisher.
func (h *Hub) Publish(_ context.Context, d *notification.Delivery) error {
	_, err := h.Deliver(d)
	return err
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}
