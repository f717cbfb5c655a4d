package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCharnyshevich/geoterrain/internal/server"
	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/internal/server/config"
	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource"
	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource/bing"
	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource/synthetic"
	"github.com/OCharnyshevich/geoterrain/internal/server/provider"
	"github.com/OCharnyshevich/geoterrain/internal/server/session"
	"github.com/OCharnyshevich/geoterrain/internal/server/storage"
	"github.com/OCharnyshevich/geoterrain/internal/server/storage/sqlite"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

func main() {
	cfg := config.DefaultConfig()

	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "heightmap store: json or sqlite")
	flag.StringVar(&cfg.Source, "source", cfg.Source, "map source: bing or synthetic")
	flag.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "bing maps api key")
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "bing maps REST endpoint")
	flag.StringVar(&cfg.ImagerySet, "imagery", cfg.ImagerySet, "imagery set for textures")
	flag.BoolVar(&cfg.Textures, "textures", cfg.Textures, "attach aerial textures to tiles")
	flag.StringVar(&cfg.Location, "location", cfg.Location, "address to center the world on")
	flag.Float64Var(&cfg.Latitude, "lat", cfg.Latitude, "latitude of the world center")
	flag.Float64Var(&cfg.Longitude, "lon", cfg.Longitude, "longitude of the world center")
	flag.IntVar(&cfg.Zoom, "zoom", cfg.Zoom, "map zoom level")
	flag.Float64Var(&cfg.GridSize, "grid-size", cfg.GridSize, "world size of the 3x3 tile window")
	flag.Float64Var(&cfg.ThresholdPercent, "threshold", cfg.ThresholdPercent, "boundary threshold in percent of a cell")
	flag.IntVar(&cfg.ElevationRows, "rows", cfg.ElevationRows, "elevation samples per side")
	flag.IntVar(&cfg.TileWidth, "tile-width", cfg.TileWidth, "heightmap width per tile")
	flag.IntVar(&cfg.SmoothingPasses, "passes", cfg.SmoothingPasses, "smoothing passes")
	flag.IntVar(&cfg.Neighbours, "neighbours", cfg.Neighbours, "smoothing neighbours per direction")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent tile generations per viewer")
	flag.BoolVar(&cfg.AllowLoad, "allow-load", cfg.AllowLoad, "restore a matching stored session")
	flag.IntVar(&cfg.MaxCacheEntries, "max-cache", cfg.MaxCacheEntries, "warn when the heightmap cache grows past this")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "seed for the synthetic source")
	flag.StringVar(&cfg.CacheURL, "cache-url", cfg.CacheURL, "fetch a prebuilt data directory on first start")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.Parse()

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.CacheURL != "" {
		if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
			log.Info("fetching data directory", "src", cfg.CacheURL, "dst", cfg.DataDir)
			if err := storage.Fetch(ctx, cfg.CacheURL, cfg.DataDir); err != nil {
				log.Error("fetch data directory", "error", err)
				os.Exit(1)
			}
		}
	}

	files, err := storage.New(cfg.DataDir, log)
	if err != nil {
		log.Error("open data directory", "error", err)
		os.Exit(1)
	}
	fromFile := *config.DefaultConfig()
	if err := files.LoadConfig(&fromFile); err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	config.Merge(cfg, &fromFile, explicit)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if err := files.SaveConfig(cfg); err != nil {
		log.Warn("save config", "error", err)
	}

	level, _ := cfg.Level()
	log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	var store cache.Store = files
	if cfg.Store == "sqlite" {
		db, err := sqlite.Open(filepath.Join(cfg.DataDir, "cache.db"), log)
		if err != nil {
			log.Error("open sqlite store", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = db
	}

	var (
		elev     mapsource.ElevationSource
		images   mapsource.ImageSource
		geocoder mapsource.GeocodeSource
		bounds   mapsource.BoundsSource
	)
	switch cfg.Source {
	case "bing":
		client := bing.New(bing.Options{
			BaseURL:    cfg.BaseURL,
			Key:        cfg.APIKey,
			ImagerySet: cfg.ImagerySet,
			Log:        log,
		})
		elev, images, geocoder, bounds = client, client, client, client
	default:
		elev = synthetic.New(cfg.Seed)
	}

	cell := cfg.GridSize / 3
	sess := session.New(session.Options{
		Location:  cfg.Location,
		Center:    geo.LatLon{Lat: cfg.Latitude, Lon: cfg.Longitude},
		Zoom:      cfg.Zoom,
		TileWidth: cfg.TileWidth,
		CellSize:  mgl64.Vec3{cell, cell, cell},
		AllowLoad: cfg.AllowLoad,
	}, cache.New(store, log, cfg.MaxCacheEntries), geocoder, bounds, log)

	tiles := provider.New(sess, elev, images, provider.Options{
		Rows:      cfg.ElevationRows,
		TileWidth: cfg.TileWidth,
		Passes:    cfg.SmoothingPasses,
		Radius:    cfg.Neighbours,
		Textures:  cfg.Textures,
	}, log)

	srv := server.New(cfg, log, sess, tiles)
	if err := srv.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
