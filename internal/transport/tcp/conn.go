package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/adapter"
	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/transport"
)

// maxLineBytes caps one inbound JSON line.
const maxLineBytes = 1 << 20

// Conn is one line-delimited JSON connection. It implements adapter.Port.
type Conn struct {
	id     string
	raw    net.Conn
	outbox *transport.Outbox
	cfg    config.TCPConfig
	logger *zap.Logger

	closeOnce sync.Once
}

// NewConn wraps raw.
//
// Precondition: raw must be an open connection; id must be unique.
func NewConn(id string, raw net.Conn, cfg config.TCPConfig, logger *zap.Logger) *Conn {
	return &Conn{
		id:     id,
		raw:    raw,
		outbox: transport.NewOutbox(id, cfg.SendBuffer),
		cfg:    cfg,
		logger: logger.With(zap.String("connection_id", id)),
	}
}

// ConnectionID returns the id the connection was registered under.
func (c *Conn) ConnectionID() string { return c.id }

// SendText queues one message line. A full queue drops the peer asynchronously.
func (c *Conn) SendText(payload string) error {
	err := c.outbox.Push(payload)
	if errors.Is(err, transport.ErrOutboxFull) {
		c.logger.Warn("outbound queue full, closing connection", zap.Int("send_buffer", c.cfg.SendBuffer))
		go c.Close()
	}
	return err
}

// Close shuts the socket and the outbound queue. Safe to call repeatedly.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.outbox.Close()
		_ = c.raw.Close()
	})
}

// readLoop hands each non-empty line to h until the peer goes away.
func (c *Conn) readLoop(h *adapter.Handle) {
	defer func() {
		h.Close()
		c.Close()
	}()

	scanner := bufio.NewScanner(c.raw)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.raw.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.logger.Debug("tcp read ended", zap.Error(err))
			}
			return
		}
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		h.ReceiveText(string(line))
	}
}

// writeLoop is the only goroutine writing to the socket.
func (c *Conn) writeLoop() {
	defer c.Close()

	w := bufio.NewWriter(c.raw)
	for msg := range c.outbox.Messages() {
		if c.cfg.WriteTimeout > 0 {
			_ = c.raw.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		}
		if _, err := w.WriteString(msg); err != nil {
			c.logger.Debug("tcp write failed", zap.Error(err))
			return
		}
		if err := w.WriteByte('\n'); err != nil {
			return
		}
		// Coalesce whatever the dispatcher has already queued into one write.
		if len(c.outbox.Messages()) > 0 {
			continue
		}
		if err := w.Flush(); err != nil {
			c.logger.Debug("tcp flush failed", zap.Error(err))
			return
		}
	}
}
