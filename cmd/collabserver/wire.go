//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/adapter"
	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/realtime"
	"github.com/cory-johannsen/stylesync/internal/storage/cache"
	"github.com/cory-johannsen/stylesync/internal/transport/websocket"
)

func initializeApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(
		wire.FieldsOf(new(config.Config), "Server", "Database", "Redis", "Store", "WebSocket", "TCP"),
		provideStore,
		provideCache,
		wire.Bind(new(realtime.DocumentSource), new(*cache.Cache)),
		provideDispatcher,
		wire.Bind(new(adapter.Dispatcher), new(*realtime.Dispatcher)),
		wire.Bind(new(websocket.StatsSource), new(*realtime.Dispatcher)),
		adapter.New,
		provideWebSocketServer,
		provideTCPAcceptor,
		provideLifecycle,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
