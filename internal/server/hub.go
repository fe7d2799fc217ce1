package server

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/wagerhall/wager-server/internal/match"
)

// Hub tracks live websocket clients by connection id and delivers events to
// them. Sends never block: a client whose buffer is full is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Debug("client registered", zap.String("conn_id", c.id))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()

	h.logger.Debug("client unregistered", zap.String("conn_id", c.id))
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo delivers ev to one connection, if it is still connected.
func (h *Hub) SendTo(connID string, ev match.Event) {
	msg, ok := h.encode(ev)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		h.deliver(c, msg)
	}
}

// SendToAll delivers ev to each of connIDs.
func (h *Hub) SendToAll(connIDs []string, ev match.Event) {
	msg, ok := h.encode(ev)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range connIDs {
		if c, ok := h.clients[id]; ok {
			h.deliver(c, msg)
		}
	}
}

// Broadcast delivers ev to every connected client.
func (h *Hub) Broadcast(ev match.Event) {
	msg, ok := h.encode(ev)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, msg)
	}
}

// SessionsChanged tells every client to refresh its session list.
func (h *Hub) SessionsChanged() {
	h.Broadcast(match.Event{Type: match.EventSessionsChanged})
}

// CloseAll closes every client connection. Their read pumps then run the
// usual disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.close()
	}
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client send buffer full, disconnecting",
			zap.String("conn_id", c.id),
		)
		c.close()
	}
}

func (h *Hub) encode(ev match.Event) ([]byte, bool) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
		return nil, false
	}
	return msg, true
}
