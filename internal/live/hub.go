package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/tagwatch/internal/telemetry"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client is one connected subscriber.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	open   atomic.Bool
	logger *zap.Logger
}

func newClient(conn *websocket.Conn, buffer int, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: logger.With(zap.String("client_id", id)),
	}
}

// ID returns the client's connection identifier.
func (c *Client) ID() string { return c.id }

// Hub tracks subscribers and fans records out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(n))
	h.logger.Debug("live subscriber connected", zap.String("client_id", c.id))
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	c.open.Store(false)
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(n))
	h.logger.Debug("live subscriber disconnected", zap.String("client_id", c.id))
}

// Broadcast queues rec for every open client and returns how many clients
// it was queued for. Clients that are not open or whose buffer is full are
// skipped; nothing is retried.
func (h *Hub) Broadcast(rec telemetry.ChangeRecord) int {
	msg, err := encodeEnvelope(rec)
	if err != nil {
		h.logger.Warn("failed to encode live envelope",
			zap.String("stream", rec.Stream),
			zap.Error(err),
		)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	queued := 0
	for c := range h.clients {
		if !c.open.Load() {
			droppedTotal.Inc()
			continue
		}
		select {
		case c.send <- msg:
			queued++
		default:
			droppedTotal.Inc()
			h.logger.Warn("subscriber send buffer full, dropping record",
				zap.String("client_id", c.id))
		}
	}
	return queued
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll drops every connection. Handlers see the read error and
// unregister their clients.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.open.Store(false)
		if c.conn != nil {
			_ = c.conn.CloseNow()
		}
	}
}

// writePump sends queued records to the connection until the channel is
// closed or a write fails.
func (c *Client) writePump(ctx context.Context, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, timeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.logger.Debug("live write error", zap.Error(err))
				c.open.Store(false)
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}
