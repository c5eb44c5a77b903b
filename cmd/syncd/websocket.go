// Package main provides the local sync daemon. The WebSocket hub streams
// sync lifecycle events to UI clients on localhost.
package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only allow connections from localhost
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// Client represents one WebSocket client connection.
type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	hub           *Hub
	mu            sync.Mutex
	subscriptions map[string]bool
}

// outbound pairs an event name with its encoded envelope so the hub can
// honor per-client subscriptions during fan-out.
type outbound struct {
	event   string
	message []byte
}

// Hub maintains active client connections and broadcasts sync events to
// them. It satisfies the coordinator's Broadcaster interface.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger
	mu         sync.RWMutex
}

// Envelope wraps all WebSocket messages.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// NewHub creates the hub and starts its fan-out loop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("ws"),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("id", client.id), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("id", client.id), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(msg.event) {
					continue
				}
				select {
				case client.send <- msg.message:
				default:
					// Client send buffer is full, drop the connection
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all subscribed clients.
func (h *Hub) Broadcast(event string, data any) {
	envelope := Envelope{
		Type:      event,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	message, err := sonic.Marshal(envelope)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	h.broadcast <- outbound{event: event, message: message}
}

// wants reports whether the client should receive the event. Clients with
// no explicit subscriptions receive everything.
func (c *Client) wants(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[event]
}

// readPump pumps control messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("read error", zap.Error(err))
			}
			break
		}

		var msg struct {
			Action string   `json:"action"`
			Events []string `json:"events"`
		}
		if err := sonic.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug("invalid client message", zap.Error(err))
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, event := range msg.Events {
				c.subscriptions[event] = true
			}
			c.mu.Unlock()
			c.sendControl("subscribe_ack", msg.Events)

		case "unsubscribe":
			c.mu.Lock()
			for _, event := range msg.Events {
				delete(c.subscriptions, event)
			}
			c.mu.Unlock()

		case "ping":
			c.sendControl("pong", nil)
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendControl(action string, events []string) {
	message, err := sonic.Marshal(map[string]any{
		"action":    action,
		"events":    events,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- message:
	default:
	}
}

// HandleWebSocket upgrades connections and registers them with the hub.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &Client{
			id:            uuid.New().String()[:8] + "-" + r.RemoteAddr,
			conn:          conn,
			send:          make(chan []byte, 256),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
