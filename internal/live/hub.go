// Package live pushes the monitor status to websocket clients, for a
// dashboard running on a phone or tablet in the car.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sleepywoodpecker/carmonitor/internal/monitor"
)

const (
	writeTimeout = 5 * time.Second
	pongWait     = 30 * time.Second
	// must be less than pongWait
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 16

	shutdownTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 2048,
	// the feed is read-only and served on the car's local network
	CheckOrigin: func(r *http.Request) bool { return true },
}

type StatusSource interface {
	Status() monitor.Status
}

// Message is the envelope sent on every broadcast.
type Message struct {
	Event string         `json:"event"`
	Data  monitor.Status `json:"data"`
}

// Hub broadcasts the current status to every connected client each interval.
type Hub struct {
	source   StatusSource
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(source StatusSource, interval time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		source:   source,
		interval: interval,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts until ctx is done, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the request and sends the current status right away.
// It blocks until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("[live] upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	h.register(c)
	defer h.unregister(c)
	h.logger.Info("[live] client connected", zap.String("remote", r.RemoteAddr))

	if data, err := h.buildMessage(); err == nil {
		h.trySend(c, data)
	}

	go c.writePump()
	c.readPump()
	h.logger.Info("[live] client disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve runs an HTTP server on addr with the hub mounted at /ws, alongside
// the broadcast loop. It returns when ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("[live] listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	go h.Run(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast() {
	data, err := h.buildMessage()
	if err != nil {
		h.logger.Warn("[live] encode status", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !h.trySend(c, data) {
			h.logger.Warn("[live] dropping slow client")
			h.unregister(c)
		}
	}
}

// trySend queues data for c without blocking. It reports false only when
// the client is still registered and its buffer is full.
func (h *Hub) trySend(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) buildMessage() ([]byte, error) {
	return json.Marshal(Message{Event: "status", Data: h.source.Status()})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames and notices the disconnect.
func (c *client) readPump() {
	defer c.conn.Close()
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
