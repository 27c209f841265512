package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"live-quiz/internal/httpx"
	"live-quiz/internal/models"
	"live-quiz/pkg/feed"
)

// Message types sent by the hub itself. Feed events are relayed with their
// own type ("session" or "participant").
const (
	MessageConnected = "connected"
	MessageRemoved   = "removed"
)

// Message represents the standard message format exchanged over WebSocket.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer in front of the API.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Identity is who a socket belongs to. ParticipantID is 0 for the host.
type Identity struct {
	SessionID     string
	ParticipantID uint
	Host          bool
}

// Authenticator resolves the credentials of an upgrade request for a room.
type Authenticator interface {
	Authenticate(r *http.Request, roomCode string) (Identity, error)
}

// Subscriber is the change feed the hub relays from.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string, fn func(feed.Event)) (func(), error)
}

type room struct {
	clients map[*Client]bool
	cancel  func()
}

// Hub fans out change-feed events to the sockets of each session. A room
// holds one feed subscription, opened by its first client and closed with
// its last.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]*room
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	feed       Subscriber
	auth       Authenticator
	done       chan struct{}
}

func NewHub(subscriber Subscriber, auth Authenticator) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		feed:       subscriber,
		auth:       auth,
		done:       make(chan struct{}),
	}
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity Identity
}

// NewClient creates a new Client instance.
func NewClient(hub *Hub, conn *websocket.Conn, identity Identity) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: identity,
	}
}

// Run owns room membership until ctx ends, then closes every socket.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.add(ctx, client)
		case client := <-h.unregister:
			h.remove(client)
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			for id, r := range h.rooms {
				r.cancel()
				delete(h.rooms, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) add(ctx context.Context, client *Client) {
	sessionID := client.identity.SessionID

	h.mu.RLock()
	_, exists := h.rooms[sessionID]
	h.mu.RUnlock()

	var cancel func()
	if !exists {
		var err error
		cancel, err = h.feed.Subscribe(ctx, sessionID, func(ev feed.Event) {
			h.relay(sessionID, ev)
		})
		if err != nil {
			log.Printf("Error subscribing room %s: %v", sessionID, err)
			close(client.send)
			return
		}
		log.Printf("Subscribed room %s to the change feed", sessionID)
	}

	h.mu.Lock()
	if !exists {
		h.rooms[sessionID] = &room{clients: make(map[*Client]bool), cancel: cancel}
	}
	h.rooms[sessionID].clients[client] = true
	h.clients[client] = true
	count := len(h.rooms[sessionID].clients)
	h.mu.Unlock()

	log.Printf("Client %p registered for session %s (participant %d, host %v). Clients: %d",
		client, sessionID, client.identity.ParticipantID, client.identity.Host, count)
	h.queue(client, encode(MessageConnected, map[string]interface{}{"session_id": sessionID}))
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	sessionID := client.identity.SessionID
	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(r.clients, client)
	log.Printf("Client %p left session %s. Remaining: %d", client, sessionID, len(r.clients))
	if len(r.clients) == 0 {
		r.cancel()
		delete(h.rooms, sessionID)
		log.Printf("Closed room %s", sessionID)
	}
}

// drop asks Run to unregister the client without blocking after shutdown.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Rooms reports how many sessions have at least one socket.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func encode(messageType string, data interface{}) []byte {
	b, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		log.Printf("Error marshaling %s message: %v", messageType, err)
		return nil
	}
	return b
}

// relay forwards a feed event. Session rows go to everyone; participant rows
// go to hosts, and a removal also goes to the removed participant, whose
// sockets are then closed.
func (h *Hub) relay(sessionID string, ev feed.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshaling feed event for %s: %v", sessionID, err)
		return
	}

	var removed uint
	if ev.Type == feed.EventParticipant {
		var p models.Participant
		if err := json.Unmarshal(ev.Data, &p); err == nil && p.Status == models.ParticipantRemoved {
			removed = p.ID
		}
	}

	h.mu.RLock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		switch {
		case ev.Type == feed.EventSession, client.identity.Host:
			h.queue(client, message)
		case removed != 0 && client.identity.ParticipantID == removed:
			h.queue(client, encode(MessageRemoved, map[string]interface{}{"participant_id": removed}))
			h.drop(client)
		}
	}
}

// queue hands message to the client's writer, dropping clients that fall
// too far behind. The read lock keeps remove from closing send meanwhile.
func (h *Hub) queue(c *Client, message []byte) {
	if message == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- message:
	default:
		log.Printf("Send channel full for client %p; unregistering client", c)
		go h.drop(c)
	}
}

// HandleWebSocket upgrades GET /ws/{roomCode} after checking credentials:
// participant_id and token for participants, token (a host JWT) for hosts.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomCode := mux.Vars(r)["roomCode"]
	if roomCode == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Missing room code")
		return
	}

	identity, err := h.auth.Authenticate(r, roomCode)
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(h, conn, identity)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump keeps the connection alive. Clients act through the HTTP API, so
// incoming messages are only logged.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Unexpected close: %v", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message from client %p: %v", c, err)
			continue
		}
		log.Printf("Ignoring %q message from client %p", msg.Type, c)
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Printf("Error getting writer for client %p: %v", c, err)
				return
			}
			if _, err := w.Write(message); err != nil {
				log.Printf("Error writing message to client %p: %v", c, err)
				return
			}
			if err := w.Close(); err != nil {
				log.Printf("Error closing writer for client %p: %v", c, err)
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
