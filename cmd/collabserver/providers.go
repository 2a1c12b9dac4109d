package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/adapter"
	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/document"
	"github.com/cory-johannsen/stylesync/internal/observability"
	"github.com/cory-johannsen/stylesync/internal/realtime"
	"github.com/cory-johannsen/stylesync/internal/server"
	"github.com/cory-johannsen/stylesync/internal/storage/cache"
	"github.com/cory-johannsen/stylesync/internal/storage/memory"
	"github.com/cory-johannsen/stylesync/internal/storage/postgres"
	redisstore "github.com/cory-johannsen/stylesync/internal/storage/redis"
	"github.com/cory-johannsen/stylesync/internal/transport/tcp"
	"github.com/cory-johannsen/stylesync/internal/transport/websocket"
)

// healthTimeout bounds a single store health probe.
const healthTimeout = time.Second

// App is the assembled server.
type App struct {
	Lifecycle *server.Lifecycle
}

// documentStore is the configured durable store plus its health probe.
type documentStore struct {
	Name   string
	Loader document.Loader
	Health websocket.HealthCheck
}

func provideStore(ctx context.Context, cfg config.StoreConfig, db config.DatabaseConfig, rc config.RedisConfig, logger *zap.Logger) (documentStore, func(), error) {
	start := time.Now()
	switch cfg.Driver {
	case config.DriverMemory:
		s, err := memory.NewStoreFromDir(cfg.SeedDir)
		if err != nil {
			return documentStore{}, nil, fmt.Errorf("seeding memory store: %w", err)
		}
		logger.Info("memory store seeded",
			zap.String("dir", cfg.SeedDir),
			zap.Int("rooms", s.Len()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return documentStore{Name: config.DriverMemory, Loader: s}, func() {}, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, db)
		if err != nil {
			return documentStore{}, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("database connected",
			zap.String("host", db.Host),
			zap.Duration("elapsed", time.Since(start)),
		)
		return documentStore{
			Name:   config.DriverPostgres,
			Loader: postgres.NewDocumentRepository(pool.DB()),
			Health: func(ctx context.Context) error { return pool.Health(ctx, healthTimeout) },
		}, pool.Close, nil

	case config.DriverRedis:
		rdb, err := redisstore.NewClient(ctx, rc)
		if err != nil {
			return documentStore{}, nil, err
		}
		logger.Info("redis connected",
			zap.String("addr", rc.Addr),
			zap.Duration("elapsed", time.Since(start)),
		)
		s := redisstore.NewDocumentStore(rdb)
		return documentStore{
			Name:   config.DriverRedis,
			Loader: s,
			Health: s.Health,
		}, func() { _ = rdb.Close() }, nil

	default:
		return documentStore{}, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// provideCache warms the cache before any transport accepts connections, since
// reads never wait for the store.
func provideCache(ctx context.Context, store documentStore, cfg config.StoreConfig, logger *zap.Logger) *cache.Cache {
	c := cache.New(store.Loader, cfg, logger)
	start := time.Now()
	if err := c.Refresh(ctx); err != nil {
		logger.Warn("warming room cache", zap.Error(err))
		return c
	}
	logger.Info("room cache warmed", zap.Int("rooms", c.Len()), zap.Duration("elapsed", time.Since(start)))
	return c
}

func provideDispatcher(docs realtime.DocumentSource, logger *zap.Logger) *realtime.Dispatcher {
	return realtime.New(docs, realtime.WithObserver(observability.NewEventLogger(logger)))
}

func provideWebSocketServer(cfg config.WebSocketConfig, a *adapter.Adapter, stats websocket.StatsSource, store documentStore, logger *zap.Logger) *websocket.Server {
	var opts []websocket.Option
	if store.Health != nil {
		opts = append(opts, websocket.WithHealthCheck(store.Name, store.Health))
	}
	return websocket.NewServer(cfg, a, stats, logger, opts...)
}

func provideTCPAcceptor(cfg config.TCPConfig, a *adapter.Adapter, logger *zap.Logger) *tcp.Acceptor {
	return tcp.NewAcceptor(cfg, a, logger)
}

func provideLifecycle(srv config.ServerConfig, tcpCfg config.TCPConfig, c *cache.Cache, ws *websocket.Server, acc *tcp.Acceptor, logger *zap.Logger) *server.Lifecycle {
	lc := server.NewLifecycle(logger, srv.ShutdownTimeout)
	lc.Add("room-cache", server.ContextService(c.Run))
	lc.Add("websocket", &server.FuncService{StartFn: ws.ListenAndServe, StopFn: ws.Stop})
	if tcpCfg.Enabled {
		lc.Add("tcp", &server.FuncService{StartFn: acc.ListenAndServe, StopFn: acc.Stop})
	}
	return lc
}
