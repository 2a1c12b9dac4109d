// Package main imports YAML room documents into the configured durable store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/document"
	"github.com/cory-johannsen/stylesync/internal/storage/memory"
	"github.com/cory-johannsen/stylesync/internal/storage/postgres"
	redisstore "github.com/cory-johannsen/stylesync/internal/storage/redis"
)

// seedAuthor is recorded as the author of versions created by this tool.
const seedAuthor = "seed-docs"

// seeder writes one room document.
type seeder func(ctx context.Context, doc document.RoomDocument) error

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	dir := flag.String("dir", "", "directory of YAML room documents (default: store.seed_dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *dir == "" {
		*dir = cfg.Store.SeedDir
	}

	docs, err := memory.LoadYAMLDir(*dir)
	if err != nil {
		log.Fatalf("loading room documents: %v", err)
	}
	if len(docs) == 0 {
		fmt.Fprintf(os.Stderr, "no room documents found in %s\n", *dir)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	seed, closeStore, err := openSeeder(ctx, cfg)
	if err != nil {
		log.Fatalf("opening %s store: %v", cfg.Store.Driver, err)
	}
	defer closeStore()

	for _, d := range docs {
		if err := seed(ctx, d); err != nil {
			log.Fatalf("seeding room %q: %v", d.RoomID, err)
		}
		fmt.Printf("seeded %s\n", d.RoomID)
	}
	fmt.Printf("seeded %d rooms into %s in %s\n", len(docs), cfg.Store.Driver, time.Since(start).Round(time.Millisecond))
}

func openSeeder(ctx context.Context, cfg config.Config) (seeder, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewDocumentRepository(pool.DB())
		return func(ctx context.Context, doc document.RoomDocument) error {
			return seedVersioned(ctx, repo, doc)
		}, pool.Close, nil

	case config.DriverRedis:
		rdb, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewDocumentStore(rdb).PutCurrent, func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("driver %q has no durable store to seed", cfg.Store.Driver)
	}
}

// seedVersioned records doc as a new version on top of whatever the room
// currently holds.
func seedVersioned(ctx context.Context, repo *postgres.DocumentRepository, doc document.RoomDocument) error {
	current, err := repo.LoadCurrent(ctx, doc.RoomID)
	switch {
	case errors.Is(err, document.ErrNotFound):
		doc.CurrentVersionID = ""
	case err != nil:
		return err
	default:
		doc.CurrentVersionID = current.CurrentVersionID
	}
	_, err = repo.SaveVersion(ctx, doc, seedAuthor)
	return err
}
