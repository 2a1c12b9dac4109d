// Package main inspects a room's version log in PostgreSQL and can reapply an
// earlier version as the room's new current document.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/document"
	"github.com/cory-johannsen/stylesync/internal/storage/postgres"
)

// reapplyAuthor is recorded as the author of versions created by -reapply.
const reapplyAuthor = "room-versions"

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	roomID := flag.String("room", "", "room id (required)")
	limit := flag.Int("limit", postgres.DefaultVersionLimit, "maximum versions to list")
	show := flag.String("show", "", "print one version as JSON")
	reapply := flag.String("reapply", "", "make this version the room's current document")
	flag.Parse()

	if *roomID == "" || (*show != "" && *reapply != "") {
		fmt.Fprintln(os.Stderr, "usage: room-versions -room <id> [-limit n | -show <version> | -reapply <version>]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Database.Validate(); err != nil {
		log.Fatalf("database config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewDocumentRepository(pool.DB())

	switch {
	case *show != "":
		v, err := repo.GetVersion(ctx, *roomID, *show)
		if err != nil {
			log.Fatalf("loading version: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			log.Fatalf("encoding version: %v", err)
		}

	case *reapply != "":
		v, err := reapplyVersion(ctx, repo, *roomID, *reapply)
		if err != nil {
			log.Fatalf("reapplying %s: %v", *reapply, err)
		}
		fmt.Printf("room %s now at %s (reapplied %s) [%s]\n", *roomID, v.VersionID, *reapply, time.Since(start).Round(time.Millisecond))

	default:
		versions, err := repo.ListVersions(ctx, *roomID, *limit)
		if err != nil {
			log.Fatalf("listing versions: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tPARENT\tAUTHOR\tCREATED")
		for _, v := range versions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.VersionID, v.ParentVersionID, v.AuthorClientID, v.CreatedAt.Format(time.RFC3339))
		}
		_ = w.Flush()
	}
}

// reapplyVersion saves the content of versionID as a new version on top of
// the room's current one.
func reapplyVersion(ctx context.Context, repo *postgres.DocumentRepository, roomID, versionID string) (document.Version, error) {
	old, err := repo.GetVersion(ctx, roomID, versionID)
	if err != nil {
		return document.Version{}, err
	}
	current, err := repo.LoadCurrent(ctx, roomID)
	if err != nil {
		return document.Version{}, err
	}
	return repo.SaveVersion(ctx, document.RoomDocument{
		RoomID:           roomID,
		CurrentVersionID: current.CurrentVersionID,
		AtomicDoc:        old.AtomicDoc,
		PageDoc:          old.PageDoc,
	}, reapplyAuthor)
}
