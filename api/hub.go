package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/monitor"
)

const (
	maxHubClients  = 100
	hubPingPeriod  = 30 * time.Second
	hubWriteWait   = 10 * time.Second
	hubPongWait    = 60 * time.Second
	clientSendSize = 256
)

type hubClient struct {
	conn     *websocket.Conn
	send     chan []byte
	accepted chan bool
}

func newHubClient(conn *websocket.Conn) *hubClient {
	return &hubClient{
		conn:     conn,
		send:     make(chan []byte, clientSendSize),
		accepted: make(chan bool, 1),
	}
}

// Hub fans engine events out to websocket clients. Broadcast never blocks;
// clients that fall behind are dropped.
type Hub struct {
	clients    map[*hubClient]bool
	broadcast  chan monitor.Event
	register   chan *hubClient
	unregister chan *hubClient
	upgrader   websocket.Upgrader
	done       chan struct{}
	maxClients int
	logger     *logrus.Entry

	mu    sync.RWMutex
	count int
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan monitor.Event, 1024),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		done:       make(chan struct{}),
		maxClients: maxHubClients,
		logger:     logger.WithField("component", "hub"),
	}
}

// Broadcast queues ev for every connected client.
func (h *Hub) Broadcast(ev monitor.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.WithField("type", ev.Type).Debug("Hub queue full, dropping event")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.send)
		}
		h.setCount(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			if len(h.clients) >= h.maxClients {
				client.accepted <- false
				continue
			}
			h.clients[client] = true
			client.accepted <- true
			h.setCount(len(h.clients))
			h.logger.WithField("clients", len(h.clients)).Info("WebSocket client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.setCount(len(h.clients))

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal event")
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	if h.Clients() >= h.maxClients {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := newHubClient(conn)
	if !h.join(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

// join registers client with Run and reports whether it was admitted.
func (h *Hub) join(client *hubClient) bool {
	select {
	case h.register <- client:
	case <-h.done:
		return false
	}
	return <-client.accepted
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and unregisters the client once the
// connection drops.
func (c *hubClient) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
