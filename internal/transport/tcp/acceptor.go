// Package tcp hosts realtime connections over plain TCP, one JSON message
// per line in each direction.
package tcp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/adapter"
	"github.com/cory-johannsen/stylesync/internal/config"
)

// Acceptor listens on a TCP port and bridges each connection to the adapter.
type Acceptor struct {
	cfg     config.TCPConfig
	adapter *adapter.Adapter
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	active   map[*Conn]struct{}
}

// NewAcceptor creates a TCP acceptor.
//
// Precondition: cfg must have a valid port; a and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.TCPConfig, a *adapter.Adapter, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		adapter: a,
		logger:  logger.Named("tcp"),
		quit:    make(chan struct{}),
		active:  make(map[*Conn]struct{}),
	}
}

// ListenAndServe accepts connections until Stop is called.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("tcp acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}
		a.handleConn(raw)
	}
}

func (a *Acceptor) handleConn(raw net.Conn) {
	c := NewConn(uuid.NewString(), raw, a.cfg, a.logger)
	h, err := a.adapter.Connect(c)
	if err != nil {
		a.logger.Error("registering connection", zap.String("connection_id", c.id), zap.Error(err))
		c.Close()
		return
	}

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		h.Close()
		c.Close()
		return
	}
	a.active[c] = struct{}{}
	a.wg.Add(2)
	a.mu.Unlock()

	start := time.Now()
	c.logger.Info("client connected", zap.String("remote_addr", raw.RemoteAddr().String()))
	go func() {
		defer a.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer a.wg.Done()
		defer a.forget(c)
		c.readLoop(h)
		c.logger.Info("client disconnected", zap.Duration("duration", time.Since(start)))
	}()
}

func (a *Acceptor) forget(c *Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, c)
}

// Stop closes the listener and every active connection, then waits for their
// goroutines to exit.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		return
	default:
	}
	close(a.quit)
	a.running = false
	if a.listener != nil {
		_ = a.listener.Close()
	}
	live := make([]*Conn, 0, len(a.active))
	for c := range a.active {
		live = append(live, c)
	}
	a.mu.Unlock()

	for _, c := range live {
		c.Close()
	}
	a.wg.Wait()

	a.logger.Info("tcp acceptor stopped", zap.Int("closed_connections", len(live)))
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// ConnectionCount returns the number of open connections.
func (a *Acceptor) ConnectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
