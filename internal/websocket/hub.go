package websocket

import (
	"context"
	"sync"

	"github.com/dennisdiepolder/monti/callrouter/internal/metrics"
	"github.com/rs/zerolog"
)

// Hub maintains the set of live connections and the session broadcast groups.
// It implements the engine's outbound Sender.
type Hub struct {
	// Registered clients by connection id
	clients map[string]*Client

	// Broadcast groups: group name -> connection ids
	groups map[string]map[string]struct{}

	// Mutex to protect clients and groups
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]struct{}),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Run blocks until ctx is done, then closes every remaining connection
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		h.remove(client)
	}
}

// Register adds client so it can receive frames immediately
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.Get().RecordWebSocketConnect()
	h.logger.Info().
		Str("connection_id", client.id).
		Str("role", string(client.role)).
		Int("total_clients", total).
		Msg("client connected")
}

// Unregister removes client; unknown or already removed clients are ignored
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(client)
}

// remove drops client and closes its send channel; callers hold h.mu
func (h *Hub) remove(client *Client) {
	current, ok := h.clients[client.id]
	if !ok || current != client {
		return
	}
	delete(h.clients, client.id)
	for name, members := range h.groups {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
	close(client.send)

	metrics.Get().RecordWebSocketDisconnect()
	h.logger.Info().
		Str("connection_id", client.id).
		Int("total_clients", len(h.clients)).
		Msg("client disconnected")
}

// deliver queues message on client without blocking; callers hold h.mu
func (h *Hub) deliver(client *Client, message []byte) bool {
	select {
	case client.send <- message:
		return true
	default:
		// Client's send buffer is full, close and remove it
		h.logger.Warn().
			Str("connection_id", client.id).
			Msg("client send buffer full, closing connection")
		metrics.Get().RecordWebSocketError()
		h.remove(client)
		return false
	}
}

// Send queues message for connID. It reports false when the connection is
// unknown or could not take the frame.
func (h *Hub) Send(connID string, message []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	return h.deliver(client, message)
}

// SendToGroup queues message for every member of group and returns how many
// accepted it
func (h *Hub) SendToGroup(group string, message []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for connID := range h.groups[group] {
		client, ok := h.clients[connID]
		if !ok {
			continue
		}
		if h.deliver(client, message) {
			sent++
		}
	}
	return sent
}

// JoinGroup adds connID to group; unknown connections are ignored
func (h *Hub) JoinGroup(group, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[connID]; !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[connID] = struct{}{}
}

// DropGroup forgets group and its members
func (h *Hub) DropGroup(group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups, group)
}

// Disconnect closes connID's socket. The read pump then reports the close
// like any other transport loss.
func (h *Hub) Disconnect(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	h.remove(client)
	return true
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupSize returns the number of members of group
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
