package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/OCharnyshevich/geoterrain/internal/server/storage"
)

func main() {
	var (
		src   = flag.String("src", "", "go-getter source of a saved data directory (path, https archive, git::, s3::, gcs::)")
		out   = flag.String("o", "./data", "output data directory")
		force = flag.Bool("force", false, "replace an existing data directory")
	)
	flag.Parse()

	if *src == "" {
		log.Fatal("source required")
	}
	if *out == "" {
		log.Fatal("output dir path required")
	}

	if _, err := os.Stat(*out); err == nil {
		if !*force {
			log.Fatalf("%s already exists, use -force to replace it", *out)
		}
		if err := os.RemoveAll(*out); err != nil {
			log.Fatal(err)
		}
	}

	log.Default().Printf("start downloading %s", *src)

	ctx := context.Background()
	if err := storage.Fetch(ctx, *src, *out); err != nil {
		log.Fatal(err)
	}

	files, err := storage.New(*out, slog.Default())
	if err != nil {
		log.Fatal(err)
	}
	snap, err := files.Load(ctx)
	if err != nil {
		log.Fatalf("downloaded directory is not a heightmap cache: %v", err)
	}
	if snap == nil {
		log.Default().Printf("done downloading %s, no session stored", *out)
		return
	}
	log.Default().Printf("done downloading %s, session %s with %d heightmaps", *out, snap.Meta.SessionID, len(snap.Tiles))
}
