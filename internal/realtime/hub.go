package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"rtchat/backend/internal/metrics"
	"rtchat/backend/internal/models"
)

const sendBuffer = 16

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]struct{}

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type Client struct {
	ID     string
	UserID string
	Send   chan []byte

	// guarded by Hub.mu
	groups map[string]struct{}
}

func NewClient(id, userID string) *Client {
	return &Client{ID: id, UserID: userID, Send: make(chan []byte, sendBuffer)}
}

func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: map[string]*Client{},
		groups:  map[string]map[string]struct{}{},
		logger:  logger.With().Str("component", "Hub").Logger(),
		metrics: m,
	}
}

// UserGroup is the group every connection of userID belongs to.
func UserGroup(userID string) string {
	return "user/" + userID
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.groups = map[string]struct{}{}
	h.clients[client.ID] = client
	h.joinLocked(UserGroup(client.UserID), client)
	h.metrics.ConnectionOpened()
}

// Unregister removes the client from every group and closes its send
// channel. Calling it more than once is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.ID] != client {
		return
	}
	for group := range client.groups {
		h.leaveLocked(group, client)
	}
	delete(h.clients, client.ID)
	close(client.Send)
	h.metrics.ConnectionClosed()
}

func (h *Hub) Join(group, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[connectionID]; ok {
		h.joinLocked(group, client)
	}
}

func (h *Hub) Leave(group, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[connectionID]; ok {
		h.leaveLocked(group, client)
	}
}

func (h *Hub) joinLocked(group string, client *Client) {
	members := h.groups[group]
	if members == nil {
		members = map[string]struct{}{}
		h.groups[group] = members
	}
	members[client.ID] = struct{}{}
	client.groups[group] = struct{}{}
}

func (h *Hub) leaveLocked(group string, client *Client) {
	if members, ok := h.groups[group]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)
}

// Members returns the connection ids currently in group.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		out = append(out, id)
	}
	return out
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(group string, event models.Event) {
	h.sendToGroups([]string{group}, event)
}

func (h *Hub) SendToUser(userID string, event models.Event) {
	h.sendToGroups([]string{UserGroup(userID)}, event)
}

func (h *Hub) SendToUsers(userIDs []string, event models.Event) {
	if len(userIDs) == 0 {
		return
	}
	groups := make([]string, len(userIDs))
	for i, id := range userIDs {
		groups[i] = UserGroup(id)
	}
	h.sendToGroups(groups, event)
}

func (h *Hub) SendToConnection(connectionID string, event models.Event) {
	message, ok := h.encode(event)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if client, ok := h.clients[connectionID]; ok {
		h.deliverLocked(client, message, event.Type)
	}
}

func (h *Hub) sendToGroups(groups []string, event models.Event) {
	message, ok := h.encode(event)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, group := range groups {
		for id := range h.groups[group] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			h.deliverLocked(h.clients[id], message, event.Type)
		}
	}
}

func (h *Hub) encode(event models.Event) ([]byte, bool) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event.Type).Msg("Failed to encode event.")
		return nil, false
	}
	return message, true
}

// deliverLocked never blocks: a client whose buffer is full loses the frame.
// Callers hold at least a read lock so Send cannot be closed underneath.
func (h *Hub) deliverLocked(client *Client, message []byte, eventType string) {
	if client == nil {
		return
	}
	select {
	case client.Send <- message:
		h.metrics.EventSent(eventType)
	default:
		h.metrics.FrameDropped()
		h.logger.Warn().
			Str("connection_id", client.ID).
			Str("user_id", client.UserID).
			Str("event", eventType).
			Msg("Send buffer full, frame dropped.")
	}
}
