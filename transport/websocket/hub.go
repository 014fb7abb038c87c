package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBufferSize = 256
)

var ErrRateLimited = errors.New("too many messages")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients authenticate with a token, not cookies
		return true
	},
}

// TokenVerifier resolves a bearer token to a principal
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*service.Principal, error)
}

// Handler receives the events of the hub. All methods run on the hub's
// event loop goroutine, one event at a time.
type Handler interface {
	OnConnect(h *Hub, c *Client)
	OnMessage(h *Hub, c *Client, req Request)
	OnDisconnect(h *Hub, c *Client)
}

// Client represents a WebSocket client
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	id        string
	principal service.Principal
	limiter   *rate.Limiter

	// owned by the event loop
	room   string
	closed bool
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// Principal returns the authenticated player of the connection
func (c *Client) Principal() service.Principal { return c.principal }

type inbound struct {
	client *Client
	req    Request
	err    error
}

// Hub maintains the set of active clients, groups them in rooms and
// serializes every event through a single loop.
type Hub struct {
	clients map[*Client]bool

	// Clients by room. A room is a session id.
	rooms map[string]map[*Client]bool

	// Decoded messages from clients
	inbound chan inbound

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	handler  Handler
	verifier TokenVerifier

	messageRate  rate.Limit
	messageBurst int

	done      chan struct{}
	closeOnce sync.Once
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithRateLimit bounds the inbound messages per second of each connection
func WithRateLimit(perSecond float64, burst int) HubOption {
	return func(h *Hub) {
		h.messageRate = rate.Limit(perSecond)
		h.messageBurst = burst
	}
}

// NewHub creates a new WebSocket hub
func NewHub(handler Handler, verifier TokenVerifier, opts ...HubOption) *Hub {
	h := &Hub{
		clients:      make(map[*Client]bool),
		rooms:        make(map[string]map[*Client]bool),
		inbound:      make(chan inbound),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		handler:      handler,
		verifier:     verifier,
		messageRate:  rate.Limit(10),
		messageBurst: 20,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's event loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.handler.OnConnect(h, client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			delete(h.clients, client)
			h.Leave(client)
			h.closeSend(client)
			h.handler.OnDisconnect(h, client)

		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; !ok {
				continue
			}
			if in.err != nil {
				h.SendError(in.client, in.err)
				continue
			}
			h.handler.OnMessage(h, in.client, in.req)

		case <-h.done:
			for client := range h.clients {
				h.closeSend(client)
			}
			return
		}
	}
}

// Close stops the event loop and closes every connection
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeWS authenticates the request and upgrades it to a WebSocket connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	principal, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		log.Debug().Err(err).Msg("websocket authentication failed")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		id:        uuid.NewString(),
		principal: *principal,
		limiter:   rate.NewLimiter(h.messageRate, h.messageBurst),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// The methods below must only be called from the event loop, that is from
// within Handler callbacks.

// Join moves the client into room, leaving its previous room
func (h *Hub) Join(c *Client, room string) {
	if c.room == room {
		return
	}
	h.Leave(c)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	c.room = room
}

// Leave removes the client from its room
func (h *Hub) Leave(c *Client) {
	if c.room == "" {
		return
	}
	if clients, ok := h.rooms[c.room]; ok {
		delete(clients, c)
		// Clean up empty rooms
		if len(clients) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.room = ""
}

// RoomSize returns the number of clients in room
func (h *Hub) RoomSize(room string) int {
	return len(h.rooms[room])
}

// Send queues a message for one client
func (h *Hub) Send(c *Client, msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal websocket message")
		return
	}
	h.deliver(c, data)
}

// Broadcast queues a message for every client of room except the given one
func (h *Hub) Broadcast(room string, except *Client, msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal broadcast message")
		return
	}
	for client := range h.rooms[room] {
		if client == except {
			continue
		}
		h.deliver(client, data)
	}
}

// SendError reports err to the client that caused it
func (h *Hub) SendError(c *Client, err error) {
	kind := service.KindOf(err)
	msg := err.Error()
	switch {
	case errors.Is(err, ErrRateLimited):
		kind = service.KindRateLimited
	case kind == service.KindInternal:
		log.Error().Err(err).Str("conn_id", c.id).Msg("request failed")
		msg = "internal error"
	}
	h.Send(c, TypeError, ErrorPayload{Code: string(kind), Message: msg})
}

func (h *Hub) deliver(c *Client, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client's send channel is full, drop the connection
		log.Warn().Str("conn_id", c.id).Msg("websocket client too slow, closing")
		h.Leave(c)
		h.closeSend(c)
	}
}

func (h *Hub) closeSend(c *Client) {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Payload: payload})
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id).Msg("websocket error")
			}
			break
		}

		in := inbound{client: c}
		if !c.limiter.Allow() {
			in.err = ErrRateLimited
		} else {
			in.req, in.err = Decode(data)
		}

		select {
		case c.hub.inbound <- in:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
