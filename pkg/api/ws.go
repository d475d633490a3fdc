package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wndlink/wndlink/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			return true
		}
		logger.WarnCF("ws", "Rejected dashboard socket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// WSEvent is one frame of the dashboard stream.
type WSEvent struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type dashboardClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *DashboardHub
}

// DashboardHub streams domain events and periodic status to observers.
type DashboardHub struct {
	server     *Server
	clients    map[*dashboardClient]bool
	broadcast  chan WSEvent
	register   chan *dashboardClient
	unregister chan *dashboardClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewDashboardHub creates a hub reporting on server's app context.
func NewDashboardHub(server *Server) *DashboardHub {
	return &DashboardHub{
		server:     server,
		clients:    make(map[*dashboardClient]bool),
		broadcast:  make(chan WSEvent, 256),
		register:   make(chan *dashboardClient),
		unregister: make(chan *dashboardClient),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It blocks until ctx is cancelled.
func (h *DashboardHub) Run(ctx context.Context) {
	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.DebugC("ws", "Dashboard client connected")
			h.sendTo(client, WSEvent{
				Type:      "initial_state",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Data:      h.server.app.Status(),
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			logger.DebugC("ws", "Dashboard client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-statusTicker.C:
			if h.ClientCount() > 0 {
				h.Broadcast("status_update", h.server.app.Status())
			}
		}
	}
}

// Broadcast queues an event for every client. Events are dropped when the
// queue is full.
func (h *DashboardHub) Broadcast(eventType string, data interface{}) {
	event := WSEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	select {
	case h.broadcast <- event:
	default:
	}
}

// ClientCount returns the number of connected dashboards.
func (h *DashboardHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades a dashboard connection. The upgrade request has
// already passed authMiddleware.
func (h *DashboardHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "Dashboard upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &dashboardClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *DashboardHub) sendTo(client *dashboardClient, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// --- Client methods ---

func (c *dashboardClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *dashboardClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per frame.
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
