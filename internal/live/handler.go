package live

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// ThresholdSetter receives threshold updates from subscribers.
type ThresholdSetter interface {
	SetThreshold(v float64)
}

// Handler upgrades subscriber connections and serves them until they close.
type Handler struct {
	hub          *Hub
	threshold    ThresholdSetter
	sendBuffer   int
	writeTimeout time.Duration
	readLimit    int64
	logger       *zap.Logger
}

// NewHandler creates a websocket handler backed by hub. threshold may be nil,
// in which case control messages are logged and ignored.
func NewHandler(hub *Hub, threshold ThresholdSetter, cfg Config, logger *zap.Logger) *Handler {
	return &Handler{
		hub:          hub,
		threshold:    threshold,
		sendBuffer:   cfg.SendBuffer,
		writeTimeout: cfg.WriteTimeout,
		readLimit:    cfg.ReadLimit,
		logger:       logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Dashboards are served from other origins on the LAN.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	// readPump bounds each message itself so an oversized one is skipped
	// instead of closing the connection.
	conn.SetReadLimit(-1)

	client := newClient(conn, h.sendBuffer, h.logger)
	ctx := r.Context()

	greetCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	err = wsjson.Write(greetCtx, conn, Greeting{Msg: "Hello"})
	cancel()
	if err != nil {
		client.logger.Debug("greeting failed", zap.Error(err))
		_ = conn.CloseNow()
		return
	}

	h.hub.Register(client)
	client.open.Store(true)

	done := make(chan struct{})
	go func() {
		client.writePump(ctx, h.writeTimeout)
		close(done)
	}()

	h.readPump(ctx, client)

	h.hub.Unregister(client)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// readPump handles control messages until the connection closes. A bad or
// oversized message is logged and skipped; only a read error ends the loop.
func (h *Handler) readPump(ctx context.Context, c *Client) {
	for {
		_, r, err := c.conn.Reader(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				c.logger.Debug("live read ended", zap.Error(err))
			}
			return
		}

		data, err := io.ReadAll(io.LimitReader(r, h.readLimit+1))
		if err != nil {
			c.logger.Debug("live read ended", zap.Error(err))
			return
		}
		if int64(len(data)) > h.readLimit {
			// The rest of the message must be consumed before the next one.
			if _, err := io.Copy(io.Discard, r); err != nil {
				return
			}
			controlTotal.WithLabelValues("oversized").Inc()
			c.logger.Warn("discarding oversized control message", zap.Int64("limit", h.readLimit))
			continue
		}
		h.handleControl(c, data)
	}
}

func (h *Handler) handleControl(c *Client, data []byte) {
	msg, err := ParseControl(data)
	if err != nil {
		controlTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn("discarding malformed control message", zap.Error(err))
		return
	}
	if msg.Threshold == nil || h.threshold == nil {
		controlTotal.WithLabelValues("ignored").Inc()
		c.logger.Debug("control message ignored", zap.ByteString("message", data))
		return
	}

	h.threshold.SetThreshold(*msg.Threshold)
	controlTotal.WithLabelValues("applied").Inc()
	c.logger.Debug("threshold set by subscriber", zap.Float64("threshold", *msg.Threshold))
}
