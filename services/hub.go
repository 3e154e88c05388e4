package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Message is the inbound client envelope.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is the outbound envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// SessionHandler processes decoded client messages and connection teardown.
// It is set once at startup; the hub itself never interprets message types.
type SessionHandler interface {
	HandleMessage(c *Client, msg Message)
	HandleDisconnect(c *Client)
}

// Hub tracks live connections and delivers events either room-wide or to a
// single connection. Targeted delivery to a connection that is gone is a
// silent no-op.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	handler    SessionHandler
	log        zerolog.Logger
}

// Client is one websocket connection with at most one room membership.
type Client struct {
	hub     *Hub
	id      string
	socket  *websocket.Conn
	send    chan []byte
	room    string // guarded by hub.mu
	limiter *rate.Limiter
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) SetHandler(handler SessionHandler) {
	h.handler = handler
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Str("client", client.id).Int("total", total).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			_, known := h.clients[client.id]
			if known {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if !known {
				continue
			}
			h.log.Info().Str("client", client.id).Int("total", total).Msg("client unregistered")
			if h.handler != nil {
				h.handler.HandleDisconnect(client)
			}
		}
	}
}

// RegisterClient wraps a fresh websocket connection, starts its pumps, and
// tells the client its connection id so it can identify itself to peers.
func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:     h,
		id:      uuid.NewString(),
		socket:  conn,
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}

	// Queued before the pumps start: registration through the run loop may
	// not have landed yet, and the client needs its id before anything else.
	if data, ok := encodeEvent(h.log, "connected", gin.H{"clientId": client.id}); ok {
		client.send <- data
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) BroadcastToRoom(roomCode, event string, payload any) {
	data, ok := encodeEvent(h.log, event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.room != roomCode {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.log.Warn().Str("client", client.id).Str("event", event).Msg("send buffer full, dropping event")
		}
	}
}

func (h *Hub) BroadcastToRoomExcept(roomCode, exceptID, event string, payload any) {
	data, ok := encodeEvent(h.log, event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.room != roomCode || client.id == exceptID {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.log.Warn().Str("client", client.id).Str("event", event).Msg("send buffer full, dropping event")
		}
	}
}

func (h *Hub) SendToClient(clientID, event string, payload any) {
	data, ok := encodeEvent(h.log, event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, known := h.clients[clientID]
	if !known {
		return
	}
	select {
	case client.send <- data:
	default:
		h.log.Warn().Str("client", client.id).Str("event", event).Msg("send buffer full, dropping event")
	}
}

func encodeEvent(log zerolog.Logger, event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal event")
		return nil, false
	}
	return data, true
}

func (c *Client) ID() string { return c.id }

// Room returns the client's current room code, empty when not joined.
func (c *Client) Room() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.room
}

// SetRoom binds the connection to a room code. A connection belongs to at
// most one room at a time.
func (c *Client) SetRoom(roomCode string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.room = roomCode
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.socket.Close()
	}()

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("client", c.id).Msg("websocket read error")
			}
			break
		}

		if !c.limiter.Allow() {
			c.hub.SendToClient(c.id, "error", gin.H{"message": "Too many messages. Please slow down."})
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Debug().Err(err).Str("client", c.id).Msg("malformed message")
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler.HandleMessage(c, msg)
		}
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for {
		message, ok := <-c.send
		if !ok {
			c.socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
