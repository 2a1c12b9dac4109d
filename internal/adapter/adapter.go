// Package adapter bridges text-message transports to the realtime dispatcher.
// It is the only place untrusted payloads are parsed.
package adapter

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/protocol"
	"github.com/cory-johannsen/stylesync/internal/realtime"
)

// Dispatcher is the subset of *realtime.Dispatcher the adapter drives.
type Dispatcher interface {
	RegisterConnection(connID string, sender realtime.Sender) error
	Dispatch(connID string, msg protocol.ClientMessage)
	Disconnect(connID string)
}

// Port is one transport connection as seen by the adapter.
type Port interface {
	ConnectionID() string
	// SendText delivers one encoded message. It must not block for long.
	SendText(payload string) error
}

// Adapter creates Handles for transport connections.
type Adapter struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New creates an Adapter.
//
// Precondition: dispatcher and logger must be non-nil.
func New(dispatcher Dispatcher, logger *zap.Logger) *Adapter {
	return &Adapter{dispatcher: dispatcher, logger: logger}
}

// Handle is the per-connection shim returned by Connect.
type Handle struct {
	adapter *Adapter
	port    Port
	connID  string
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Connect registers port with the dispatcher.
//
// Postcondition: Returns a Handle whose ReceiveText feeds the dispatcher, or an
// error if the connection id is already registered.
func (a *Adapter) Connect(port Port) (*Handle, error) {
	h := &Handle{
		adapter: a,
		port:    port,
		connID:  port.ConnectionID(),
		logger:  a.logger.With(zap.String("connection_id", port.ConnectionID())),
	}
	if err := a.dispatcher.RegisterConnection(h.connID, realtime.SenderFunc(h.send)); err != nil {
		return nil, err
	}
	return h, nil
}

// ConnectionID returns the id the connection was registered under.
func (h *Handle) ConnectionID() string { return h.connID }

// ReceiveText decodes one inbound payload and dispatches it. Invalid payloads
// produce a typed error reply on this connection only. Calls after Close are
// ignored.
func (h *Handle) ReceiveText(payload string) {
	if h.isClosed() {
		return
	}

	msg, err := protocol.DecodeClientMessage([]byte(payload))
	if err != nil {
		var de *protocol.DecodeError
		if !errors.As(err, &de) {
			de = &protocol.DecodeError{Code: protocol.CodeInvalidMessage, Message: "message could not be decoded"}
		}
		h.logger.Debug("rejected inbound message",
			zap.String("code", de.Code),
			zap.Int("issues", len(de.Issues)),
		)
		h.send(de.Reply())
		return
	}
	h.adapter.dispatcher.Dispatch(h.connID, msg)
}

// Close disconnects the connection from the dispatcher. Safe to call repeatedly.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.adapter.dispatcher.Disconnect(h.connID)
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// send encodes msg and writes it to the port. Failures are logged, never raised.
func (h *Handle) send(msg protocol.ServerMessage) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		h.logger.Error("encoding outbound message", zap.String("type", msg.Kind()), zap.Error(err))
		return
	}
	if err := h.port.SendText(string(data)); err != nil {
		h.logger.Warn("sending outbound message", zap.String("type", msg.Kind()), zap.Error(err))
	}
}
