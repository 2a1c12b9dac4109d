// Package websocket hosts realtime connections over gorilla/websocket and
// serves the small HTTP surface around them.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/adapter"
	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/realtime"
)

// StatsSource reports dispatcher counters for the /stats endpoint.
type StatsSource interface {
	Stats() realtime.Stats
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// Server accepts websocket upgrades on /ws and bridges each socket to the
// adapter.
type Server struct {
	cfg      config.WebSocketConfig
	adapter  *adapter.Adapter
	stats    StatsSource
	logger   *zap.Logger
	upgrader gws.Upgrader
	checks   map[string]HealthCheck

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	conns    map[*conn]struct{}
	stopping bool
	wg       sync.WaitGroup
}

// NewServer creates a websocket Server.
//
// Precondition: a, stats and logger must be non-nil; cfg must be validated.
// Postcondition: Returns a Server ready for ListenAndServe or Handler.
func NewServer(cfg config.WebSocketConfig, a *adapter.Adapter, stats StatsSource, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		adapter: a,
		stats:   stats,
		logger:  logger.Named("websocket"),
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		checks: make(map[string]HealthCheck),
		conns:  make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on cfg.Addr() and serves until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

// Stop shuts the HTTP listener down, closes every live socket and waits for
// their pumps to exit. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	srv := s.httpSrv
	live := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		live = append(live, c)
	}
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	for _, c := range live {
		c.close()
	}
	s.wg.Wait()

	s.logger.Info("websocket server stopped", zap.Int("closed_connections", len(live)))
}

// Addr returns the bound listen address, or "" before ListenAndServe.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ConnectionCount returns the number of live sockets.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := newConn(uuid.NewString(), ws, s.cfg, s.logger)
	h, err := s.adapter.Connect(c)
	if err != nil {
		s.logger.Error("registering connection", zap.String("connection_id", c.id), zap.Error(err))
		c.close()
		return
	}
	if !s.track(c) {
		h.Close()
		c.close()
		return
	}

	c.logger.Info("websocket connected", zap.String("remote_addr", r.RemoteAddr))
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		defer s.untrack(c)
		c.readPump(h)
	}()
}

// track registers c and reserves its two pump goroutines. It refuses new
// sockets once Stop has begun.
func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(2)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}
