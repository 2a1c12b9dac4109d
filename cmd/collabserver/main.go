// Package main runs the realtime style collaboration server: the document
// cache, the dispatcher, and the websocket and TCP transports.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}

	if err := run(context.Background(), cfg, logger, start); err != nil {
		logger.Error("collabserver exited with error", zap.Error(err))
		_ = logger.Sync()
		log.Fatalf("collabserver: %v", err)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, start time.Time) error {
	app, cleanup, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("collabserver initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("websocket_addr", cfg.WebSocket.Addr()),
		zap.Bool("tcp_enabled", cfg.TCP.Enabled),
		zap.Duration("startup", time.Since(start)),
	)
	return app.Lifecycle.Run(ctx)
}
