// Package ws streams entitlement-change notifications to connected browsers.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level
	},
}

// TokenVerifier validates the token passed in the query string.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*domain.JWTClaims, error)
}

// Event is the message pushed to subscribers.
type Event struct {
	Type   string    `json:"type"`
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// EventEntitlementChanged tells the client to refetch its entitlement.
const EventEntitlementChanged = "entitlement_changed"

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans entitlement changes out to every open connection of the affected user.
type Hub struct {
	auth   TokenVerifier
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

// NewHub creates a new Hub.
func NewHub(auth TokenVerifier, logger *zap.Logger) *Hub {
	return &Hub{
		auth:    auth,
		logger:  logger.Named("ws"),
		clients: make(map[string]map[*client]struct{}),
	}
}

// Handle upgrades HTTP to WebSocket and subscribes the caller to their own
// entitlement changes.
// URL: /ws/entitlements?token=JWT_TOKEN
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{userID: claims.Sub, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	h.logger.Debug("subscriber connected", zap.String("user_id", c.userID))

	go h.writeLoop(c)
	h.readLoop(c)
}

// EntitlementChanged notifies every connection of userID. Slow connections
// that cannot take the message are dropped.
func (h *Hub) EntitlementChanged(userID string) {
	msg, err := json.Marshal(Event{Type: EventEntitlementChanged, UserID: userID, At: time.Now().UTC()})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			h.removeLocked(c)
		}
	}
}

// Subscribers returns the number of open connections for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes c.send once; the write loop then closes the connection.
func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}

// readLoop discards client input and returns when the connection closes.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}
