// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start runs the service and blocks until it is stopped or fails.
	Start() error
	// Stop asks the service to return from Start.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// ContextService runs fn until Stop cancels its context. It suits background
// loops such as cache refreshers that already take a context.
func ContextService(fn func(ctx context.Context) error) Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &FuncService{
		StartFn: func() error {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
		StopFn: cancel,
	}
}

// Lifecycle runs named services. They are started in registration order and
// stopped in reverse order.
type Lifecycle struct {
	logger          *zap.Logger
	shutdownTimeout time.Duration

	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager. A zero shutdownTimeout waits
// for every Stop call without bound.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, shutdownTimeout time.Duration) *Lifecycle {
	return &Lifecycle{
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Add registers a named service.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until SIGINT/SIGTERM, ctx cancellation,
// or the first service failure. Services are then stopped in reverse order.
//
// Postcondition: All services have been asked to stop. The first service
// failure, if any, is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	errCh := make(chan error, len(services))
	for _, ns := range services {
		go func() {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.shutdown(services)

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		l.logger.Info("stopping service", zap.String("service", ns.name))
		elapsed, ok := l.stopWithin(ns.service)
		if !ok {
			l.logger.Warn("service did not stop in time",
				zap.String("service", ns.name),
				zap.Duration("timeout", l.shutdownTimeout),
			)
			continue
		}
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", elapsed),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(shutdownStart)))
}

// stopWithin calls svc.Stop and reports whether it returned before the
// shutdown timeout.
func (l *Lifecycle) stopWithin(svc Service) (time.Duration, bool) {
	start := time.Now()
	if l.shutdownTimeout <= 0 {
		svc.Stop()
		return time.Since(start), true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Stop()
	}()
	select {
	case <-done:
		return time.Since(start), true
	case <-time.After(l.shutdownTimeout):
		return time.Since(start), false
	}
}
