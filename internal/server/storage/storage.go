// Package storage persists the server config and heightmap cache as files:
// config.json, session.json and one compressed blob per cached heightmap.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	getter "github.com/hashicorp/go-getter"

	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/internal/server/config"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

// Storage handles file-based persistence rooted at a data directory. It
// implements cache.Store.
type Storage struct {
	dir string
	log *slog.Logger
}

// New creates a new Storage rooted at dir, creating subdirectories as needed.
func New(dir string, log *slog.Logger) (*Storage, error) {
	dirs := []string{
		dir,
		filepath.Join(dir, "heightmaps"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return &Storage{dir: dir, log: log}, nil
}

// Dir returns the data directory.
func (s *Storage) Dir() string { return s.dir }

// LoadConfig reads config.json into cfg. If the file does not exist, cfg is unchanged.
func (s *Storage) LoadConfig(cfg *config.Config) error {
	path := filepath.Join(s.dir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	s.log.Info("loaded config from file", "path", path)
	return nil
}

// SaveConfig writes cfg to config.json atomically.
func (s *Storage) SaveConfig(cfg *config.Config) error {
	path := filepath.Join(s.dir, "config.json")
	return atomicWriteJSON(path, cfg)
}

// Load reads session.json and every heightmap it lists. It returns
// (nil, nil) when no session has been saved.
func (s *Storage) Load(ctx context.Context) (*cache.Snapshot, error) {
	path := filepath.Join(s.dir, "session.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sd SessionData
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if sd.Version != sessionVersion {
		return nil, fmt.Errorf("session version %d, want %d", sd.Version, sessionVersion)
	}

	snap := &cache.Snapshot{Meta: sd.Meta}
	for _, rec := range sd.Tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := s.readBlob(rec.File)
		if err != nil {
			s.log.Warn("skipping unreadable heightmap", "key", rec.Key(), "error", err)
			continue
		}
		snap.Tiles = append(snap.Tiles, cache.Entry{Key: rec.Key(), Heightmap: h})
	}
	return snap, nil
}

// Save writes one blob per heightmap, then session.json. Blobs that already
// exist are left alone; cached heightmaps never change once stored. Saving a
// different session first removes the previous one.
func (s *Storage) Save(ctx context.Context, snap *cache.Snapshot) error {
	if snap.Meta == nil {
		return fmt.Errorf("save session: missing meta")
	}
	prev, found, err := s.storedSessionID()
	if err != nil {
		return err
	}
	if found && prev != snap.Meta.SessionID {
		s.log.Info("replacing stored session", "old", prev, "new", snap.Meta.SessionID)
		if err := s.Reset(); err != nil {
			return err
		}
	}

	sd := SessionData{Version: sessionVersion, Meta: snap.Meta}
	written := 0
	for _, e := range snap.Tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := blobName(e.Key)
		path := filepath.Join(s.dir, "heightmaps", name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			blob, err := heightmap.Encode(e.Heightmap)
			if err != nil {
				return fmt.Errorf("encode heightmap %v: %w", e.Key, err)
			}
			if err := atomicWrite(path, blob); err != nil {
				return err
			}
			written++
		}
		sd.Tiles = append(sd.Tiles, TileRecord{X: e.Key.X, Z: e.Key.Z, Width: e.Heightmap.Width, File: name})
	}

	if err := atomicWriteJSON(filepath.Join(s.dir, "session.json"), &sd); err != nil {
		return err
	}
	s.log.Debug("saved session", "tiles", len(sd.Tiles), "new_blobs", written)
	return nil
}

// storedSessionID returns the id in session.json. found is false when no
// session was saved; an unparsable file yields found with an empty id.
func (s *Storage) storedSessionID() (id string, found bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "session.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read session: %w", err)
	}
	var sd SessionData
	if json.Unmarshal(data, &sd) != nil || sd.Meta == nil {
		return "", true, nil
	}
	return sd.Meta.SessionID, true, nil
}

// Reset removes the saved session and all heightmap blobs.
func (s *Storage) Reset() error {
	if err := os.Remove(filepath.Join(s.dir, "session.json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	blobs := filepath.Join(s.dir, "heightmaps")
	if err := os.RemoveAll(blobs); err != nil {
		return fmt.Errorf("remove heightmaps: %w", err)
	}
	return os.MkdirAll(blobs, 0o755)
}

func (s *Storage) readBlob(name string) (*heightmap.Heightmap, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "heightmaps", filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("read heightmap: %w", err)
	}
	return heightmap.Decode(data)
}

// Fetch downloads a saved data directory from src (any go-getter source:
// local path, http archive, git, s3, gcs) into dst.
func Fetch(ctx context.Context, src, dst string) error {
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("fetch %s: %w", src, err)
	}
	return nil
}

// atomicWriteJSON marshals v to JSON and writes it atomically.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return atomicWrite(path, append(data, '\n'))
}

// atomicWrite writes data using a temp file + rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
