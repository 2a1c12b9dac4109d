// Package cache turns a context-aware document store into the synchronous,
// non-blocking document source the realtime dispatcher reads from. Reads
// never touch the store: a miss answers not-found at once and schedules a
// background load.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/document"
)

// MaxPendingLoads caps the background loads running at once. Misses beyond
// the cap are dropped; the periodic refresh still picks those rooms up.
const MaxPendingLoads = 16

// Cache holds the latest known snapshot of every room.
//
// Invariant: a room is cached only after a successful load; not-found results
// are never cached.
type Cache struct {
	loader      document.Loader
	loadTimeout time.Duration
	interval    time.Duration
	logger      *zap.Logger

	loads   singleflight.Group
	pending *semaphore.Weighted

	mu   sync.RWMutex
	docs map[string]document.RoomDocument
}

// New creates an empty Cache over loader.
//
// Precondition: loader and logger must be non-nil.
func New(loader document.Loader, cfg config.StoreConfig, logger *zap.Logger) *Cache {
	return &Cache{
		loader:      loader,
		loadTimeout: cfg.LoadTimeout,
		interval:    cfg.RefreshInterval,
		logger:      logger.Named("cache"),
		pending:     semaphore.NewWeighted(MaxPendingLoads),
		docs:        make(map[string]document.RoomDocument),
	}
}

// CurrentRoomDoc returns the cached snapshot of roomID. It never blocks on
// the store: a miss schedules a background load and reports not-found, so a
// room that exists in the store becomes readable once that load lands.
//
// Postcondition: Returns a copy safe for the caller to retain, or an error
// wrapping document.ErrNotFound.
func (c *Cache) CurrentRoomDoc(roomID string) (document.RoomDocument, error) {
	c.mu.RLock()
	d, ok := c.docs[roomID]
	c.mu.RUnlock()
	if ok {
		return d.Clone(), nil
	}

	c.loadInBackground(roomID)
	return document.RoomDocument{}, fmt.Errorf("room %q not cached: %w", roomID, document.ErrNotFound)
}

// loadInBackground starts at most one load per room, and at most
// MaxPendingLoads overall.
func (c *Cache) loadInBackground(roomID string) {
	c.loads.DoChan(roomID, func() (any, error) {
		if !c.pending.TryAcquire(1) {
			c.logger.Debug("background load dropped", zap.String("room_id", roomID))
			return nil, nil
		}
		defer c.pending.Release(1)
		return nil, c.Load(context.Background(), roomID)
	})
}

// Load reads roomID from the store, bounded by the load timeout, and caches it.
//
// Postcondition: Returns an error wrapping document.ErrNotFound for unknown
// rooms; nothing is cached in that case.
func (c *Cache) Load(ctx context.Context, roomID string) error {
	if c.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.loadTimeout)
		defer cancel()
	}
	d, err := c.loader.LoadCurrent(ctx, roomID)
	if err != nil {
		if !errors.Is(err, document.ErrNotFound) {
			c.logger.Warn("loading room", zap.String("room_id", roomID), zap.Error(err))
		}
		return err
	}
	c.Put(d)
	return nil
}

// Put stores doc as the latest snapshot of its room.
func (c *Cache) Put(doc document.RoomDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc.RoomID] = doc.Clone()
}

// Invalidate drops the snapshot of roomID so the next read schedules a reload.
func (c *Cache) Invalidate(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, roomID)
}

// Len returns the number of cached rooms.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Refresh replaces the cache contents with every document in the store.
//
// Postcondition: On error the previous contents are kept.
func (c *Cache) Refresh(ctx context.Context) error {
	start := time.Now()
	docs, err := c.loader.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("refreshing room cache: %w", err)
	}

	fresh := make(map[string]document.RoomDocument, len(docs))
	for _, d := range docs {
		fresh[d.RoomID] = d.Clone()
	}
	c.mu.Lock()
	c.docs = fresh
	c.mu.Unlock()

	c.logger.Debug("room cache refreshed", zap.Int("rooms", len(fresh)), zap.Duration("duration", time.Since(start)))
	return nil
}

// Run refreshes the cache once, then every refresh interval until ctx is done.
// Refresh failures are logged and retried on the next tick.
//
// Postcondition: Returns nil once ctx is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("initial room cache refresh failed", zap.Error(err))
	}
	if c.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("room cache refresh failed", zap.Error(err))
			}
		}
	}
}
