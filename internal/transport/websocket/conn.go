package websocket

import (
	"errors"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/adapter"
	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/transport"
)

// conn is one upgraded websocket. It implements adapter.Port.
type conn struct {
	id     string
	ws     *gws.Conn
	outbox *transport.Outbox
	cfg    config.WebSocketConfig
	logger *zap.Logger

	closeOnce sync.Once
}

func newConn(id string, ws *gws.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		outbox: transport.NewOutbox(id, cfg.SendBuffer),
		cfg:    cfg,
		logger: logger.With(zap.String("connection_id", id)),
	}
}

func (c *conn) ConnectionID() string { return c.id }

// SendText queues payload for the write pump. A peer that cannot keep up is
// dropped; the close runs on its own goroutine because SendText is called
// while the dispatcher holds its lock.
func (c *conn) SendText(payload string) error {
	err := c.outbox.Push(payload)
	if errors.Is(err, transport.ErrOutboxFull) {
		c.logger.Warn("outbound queue full, closing connection", zap.Int("send_buffer", c.cfg.SendBuffer))
		go c.close()
	}
	return err
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.outbox.Close()
		_ = c.ws.Close()
	})
}

// readPump feeds inbound frames to the handle in arrival order and disconnects
// the handle when the socket ends.
func (c *conn) readPump(h *adapter.Handle) {
	start := time.Now()
	defer func() {
		h.Close()
		c.close()
		c.logger.Info("websocket disconnected", zap.Duration("duration", time.Since(start)))
	}()

	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure, gws.CloseNoStatusReceived) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		h.ReceiveText(string(data))
	}
}

// writePump is the only goroutine that writes to the socket.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.outbox.Messages():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(gws.TextMessage, []byte(msg)); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
