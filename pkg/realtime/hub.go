package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Client is one connected console.
type Client struct {
	ID       string
	Send     chan []byte
	Patterns []string
}

func (c *Client) wants(key string) bool {
	for _, p := range c.Patterns {
		if Match(p, key) {
			return true
		}
	}
	return false
}

// Hub fans messages out to the consoles connected to this instance.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Unregister removes the client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers msg to local subscribers; it never blocks on slow clients.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Deliver(msg.Key, frame)
	return nil
}

// Deliver pushes an encoded frame to every client subscribed to key.
func (h *Hub) Deliver(key string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(key) {
			continue
		}
		select {
		case client.Send <- frame:
		default:
			h.logger.Warn("drop realtime frame", zap.String("client_id", client.ID), zap.String("key", key))
		}
	}
}
