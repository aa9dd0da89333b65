package game

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"crashpit/internal/cache"
)

// Client is one live websocket connection. The session id is its identity in
// the ephemeral store; the user id is attached once the connection
// authenticates.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
	mu        sync.Mutex
}

// Hub tracks the connections this instance hosts. Room membership lives in
// the ephemeral store so a round machine can address a room without knowing
// which instance holds each socket; the hub only delivers to its own.
type Hub struct {
	store      cache.Store
	clients    map[string]*Client // session id -> client
	byUser     map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub(store cache.Store) *Hub {
	return &Hub{
		store:      store,
		clients:    make(map[string]*Client),
		byUser:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.sessionID] = client
			h.mu.Unlock()
			log.Printf("[WS] Session connected: %s (Total: %d)", client.sessionID, h.Count())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.sessionID]; ok {
				delete(h.clients, client.sessionID)
				if conns := h.byUser[client.userID]; conns != nil {
					delete(conns, client.sessionID)
					if len(conns) == 0 {
						delete(h.byUser, client.userID)
					}
				}
				client.conn.Close()
			}
			h.mu.Unlock()
			log.Printf("[WS] Session disconnected: %s (Total: %d)", client.sessionID, h.Count())
		}
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, sessionID string) *Client {
	client := &Client{conn: conn, sessionID: sessionID}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// Authenticate binds the session to a user once its token validated.
func (h *Hub) Authenticate(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.userID = userID
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*Client)
	}
	h.byUser[userID][client.sessionID] = client
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ToRoom resolves the room's membership from the ephemeral store and writes
// to every member session this instance hosts.
func (h *Hub) ToRoom(ctx context.Context, lobbyID int64, event Event) {
	sids, err := h.store.Members(ctx, cache.RoomKey(lobbyID))
	if err != nil {
		log.Printf("[WS] Room %d membership unavailable: %v", lobbyID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sid := range sids {
		if client, ok := h.clients[sid]; ok {
			go client.Send(event)
		}
	}
}

// ToUser writes to every authenticated session of the user on this instance.
func (h *Hub) ToUser(userID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.byUser[userID] {
		go client.Send(event)
	}
}

func (c *Client) SessionID() string { return c.sessionID }
func (c *Client) UserID() string    { return c.userID }

// Send marshals and writes one event. Serialized per connection; concurrent
// senders queue on the client lock rather than interleaving frames.
func (c *Client) Send(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Marshal error: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] Write error for session %s: %v", c.sessionID, err)
	}
}
