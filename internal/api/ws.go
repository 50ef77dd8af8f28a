package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/engine"
)

// pingInterval also bounds how long a dead peer keeps its slot.
const pingInterval = 30 * time.Second

// changeSource is the part of the engine the hub needs.
type changeSource interface {
	Subscribe(buf int) (<-chan engine.Change, func())
}

// Hub fans engine change notifications out to WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	reg     chan *wsClient
	unreg   chan *wsClient
	done    chan struct{}
	logger  *slog.Logger
}

type wsClient struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	kinds map[engine.Kind]bool // subscribed kinds; empty means all
	mu    sync.Mutex
}

type changeFrame struct {
	Type string `json:"type"`
	engine.Change
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		reg:     make(chan *wsClient, 16),
		unreg:   make(chan *wsClient, 16),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "ws"),
	}
}

// Run processes register/unregister events and forwards changes from src
// until its channel closes.
func (h *Hub) Run(src changeSource) {
	changes, cancel := src.Subscribe(256)
	defer cancel()
	for {
		select {
		case c := <-h.reg:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case ch, ok := <-changes:
			if !ok {
				close(h.done)
				h.closeAll()
				return
			}
			h.Broadcast(ch)
		}
	}
}

// Broadcast sends a change to every client subscribed to its kind.
func (h *Hub) Broadcast(ch engine.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(changeFrame{Type: "change", Change: ch})
	if err != nil {
		return
	}
	for c := range h.clients {
		if !c.wants(ch.Kind) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// client too slow, skip
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *wsClient) wants(k engine.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.kinds) == 0 || c.kinds[k]
}

func (c *wsClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// HandleWS handles WebSocket upgrade and manages the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard may be served from another origin
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "err", err)
		return
	}

	client := &wsClient{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, 64),
		kinds: make(map[engine.Kind]bool),
	}

	select {
	case h.reg <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.pingLoop(ctx)
	go client.writePump(ctx)
	client.readPump(ctx)
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unreg <- c:
		case <-c.hub.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type  string        `json:"type"`
			Kinds []engine.Kind `json:"kinds"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.mu.Lock()
			for _, k := range msg.Kinds {
				c.kinds[k] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, k := range msg.Kinds {
				delete(c.kinds, k)
			}
			c.mu.Unlock()
		}
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
