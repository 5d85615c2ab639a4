package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNoRecipient is returned when no connection of the owner accepted a message.
var ErrNoRecipient = errors.New("websocket: no connected client accepted the message")

// Message is an in-app notification pushed to an owner's open sessions.
type Message struct {
	Type           string         `json:"type"`
	Kind           string         `json:"kind"`
	IntentID       string         `json:"intent_id,omitempty"`
	DoseInstanceID *int64         `json:"dose_instance_id,omitempty"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	URL            string         `json:"url,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// NewMessage creates a notification Message for the given intent kind.
func NewMessage(kind, title, body string) Message {
	return Message{
		Type:  fmt.Sprintf("notification_%s", kind),
		Kind:  kind,
		Title: title,
		Body:  body,
	}
}

// Hub maintains the active WebSocket clients grouped by owner.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.ownerID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.ownerID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.ownerID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.ownerID)
		}
	}
	h.mu.Unlock()
}

// SendTo queues msg on every connection of ownerID. It succeeds when at least
// one connection accepted it.
func (h *Hub) SendTo(ownerID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients[ownerID] {
		select {
		case c.send <- data:
			delivered++
		default:
			// buffer full, drop
			h.logger.Warn("dropped message for slow client", "owner_id", ownerID)
		}
	}
	if delivered == 0 {
		return ErrNoRecipient
	}
	return nil
}

// ClientCount returns the number of connected clients for ownerID.
func (h *Hub) ClientCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}
