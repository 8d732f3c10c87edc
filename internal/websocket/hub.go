package websocket

import (
	"encoding/json"
	"sync"

	"prepaid/internal/metrics"

	"go.uber.org/zap"
)

const (
	MessageBalance  = "balance"
	MessagePurchase = "purchase"
)

type BalanceUpdate struct {
	WalletID string `json:"wallet_id"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type PurchaseUpdate struct {
	Reference string `json:"reference"`
	Service   string `json:"service"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	Token     string `json:"token,omitempty"`
}

type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans updates out to every open socket of a user. Slow clients drop
// messages instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	origins map[string]bool
	logger  *zap.Logger
}

func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = true
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		origins: origins,
		logger:  logger,
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
	metrics.WSConnections.Inc()
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID][client]; !ok {
		return
	}
	delete(h.clients[userID], client)
	metrics.WSConnections.Dec()
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	h.broadcast(userID, message{Type: MessageBalance, Data: update})
}

func (h *Hub) BroadcastPurchase(userID string, update PurchaseUpdate) {
	h.broadcast(userID, message{Type: MessagePurchase, Data: update})
}

func (h *Hub) broadcast(userID string, msg message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode websocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			metrics.WSDroppedTotal.Inc()
			h.logger.Debug("websocket client buffer full", zap.String("user_id", userID))
		}
	}
}

func (h *Hub) allowOrigin(origin string) bool {
	if origin == "" || len(h.origins) == 0 || h.origins["*"] {
		return true
	}
	return h.origins[origin]
}
