package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

const (
	defaultSendQueue    = 16
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	maxClientMessage    = 512
)

// HubConfig configures the live-update socket.
type HubConfig struct {
	// AllowedOrigins lists accepted Origin headers. Empty or "*" accepts all.
	AllowedOrigins []string
	// SendQueue is the number of frames buffered per client before the
	// client is considered too slow and disconnected.
	SendQueue    int
	WriteTimeout time.Duration
	PongWait     time.Duration
	Logger       *slog.Logger
}

// Hub keeps the connected websocket clients and broadcasts events to them as
// JSON text frames. It is both an http.Handler and a Sink.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	config   HubConfig
	logger   *slog.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(config HubConfig) *Hub {
	if config.SendQueue <= 0 {
		config.SendQueue = defaultSendQueue
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.PongWait <= 0 {
		config.PongWait = defaultPongWait
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		clients: make(map[*hubClient]struct{}),
		config:  config,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, "*") || slices.Contains(h.config.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "err", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, h.config.SendQueue)}
	h.register(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client frames; it only exists to process control frames
// and to notice the disconnect.
func (h *Hub) readLoop(c *hubClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket closed unexpectedly", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(h.config.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister removes c and closes its queue, which stops writeLoop.
func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) Name() string { return "websocket" }

// Deliver queues event for every client. Clients whose queue is full are
// disconnected rather than slowing down the broadcast.
func (h *Hub) Deliver(ctx context.Context, event simpleupload.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var slow []*hubClient
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
