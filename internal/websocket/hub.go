package websocket

import (
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"
)

// BalanceUpdate is pushed to a user's sockets after a committed balance change.
type BalanceUpdate struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
	Delta   string `json:"delta"`
	Reason  string `json:"reason"`
}

// Hub fans balance updates out to every open stream of a user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	origins []string
}

// NewHub accepts browser origins allowed to open a stream. No origins, or
// "*", accepts any.
func NewHub(allowedOrigins ...string) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		origins: allowedOrigins,
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// Connected returns the number of open sockets for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// BroadcastBalance never blocks; a client with a full buffer misses the update.
func (h *Hub) BroadcastBalance(update BalanceUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		log.WithError(err).Error("Failed to encode balance update")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[update.UserID] {
		select {
		case client.send <- payload:
		default:
			log.WithField("user_id", update.UserID).Warn("Balance update dropped, client buffer full")
		}
	}
}
