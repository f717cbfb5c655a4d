// Package cache keeps the heightmaps synthesized during a session, keyed by
// grid cell, and moves them to and from a persistent store.
package cache

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCharnyshevich/geoterrain/pkg/geo"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

// Meta is the session metadata persisted next to the heightmaps. Cached
// tiles are only meaningful for the reference frame it describes.
type Meta struct {
	SessionID  string     `json:"session_id"`
	Zoom       int        `json:"zoom"`
	Center     geo.LatLon `json:"center"`
	FirstBBox  geo.BBox   `json:"first_bbox"`
	FirstSpawn mgl64.Vec3 `json:"first_spawn"`
	Anchored   bool       `json:"anchored"` // FirstSpawn has been fixed
	CellSize   mgl64.Vec3 `json:"cell_size"`
	ExtentX    float64    `json:"extent_x"` // east - west of FirstBBox, degrees
	ExtentZ    float64    `json:"extent_z"` // north - south of FirstBBox, degrees
	TileWidth  int        `json:"tile_width"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Entry is one cached heightmap.
type Entry struct {
	Key       geo.CellKey
	Heightmap *heightmap.Heightmap
}

// Snapshot is what a Store persists.
type Snapshot struct {
	Meta  *Meta
	Tiles []Entry
}

// Store is durable storage for snapshots. Load returns (nil, nil) when
// nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Cache maps grid cells to heightmaps. The first heightmap stored for a cell
// wins; nothing is ever evicted.
type Cache struct {
	mu     sync.RWMutex
	tiles  map[geo.CellKey]*heightmap.Heightmap
	store  Store
	log    *slog.Logger
	limit  int
	warned bool
}

// New creates an empty cache backed by store (which may be nil). When limit
// is positive, a warning is logged once the cache grows past it.
func New(store Store, log *slog.Logger, limit int) *Cache {
	return &Cache{
		tiles: make(map[geo.CellKey]*heightmap.Heightmap),
		store: store,
		log:   log,
		limit: limit,
	}
}

// Get returns the heightmap cached for key.
func (c *Cache) Get(key geo.CellKey) (*heightmap.Heightmap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.tiles[key]
	return h, ok
}

// Has reports whether key is cached.
func (c *Cache) Has(key geo.CellKey) bool {
	_, ok := c.Get(key)
	return ok
}

// Put stores h under key unless key is already present. It reports whether
// h was stored.
func (c *Cache) Put(key geo.CellKey, h *heightmap.Heightmap) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tiles[key]; ok {
		return false
	}
	c.tiles[key] = h

	if c.limit > 0 && len(c.tiles) > c.limit && !c.warned {
		c.warned = true
		c.log.Warn("heightmap cache above soft limit", "entries", len(c.tiles), "limit", c.limit)
	}
	return true
}

// Len returns the number of cached heightmaps.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tiles)
}

// Entries returns all cached heightmaps ordered by key (Z, then X).
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.tiles))
	for k, h := range c.tiles {
		entries = append(entries, Entry{Key: k, Heightmap: h})
	}
	c.mu.RUnlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Key.Z, b.Key.Z), cmp.Compare(a.Key.X, b.Key.X))
	})
	return entries
}

// Load reads the store's snapshot. Its tiles are merged into the cache only
// when accept approves the stored metadata (nil accepts everything). The
// stored metadata is returned either way; ok reports whether tiles were
// merged.
func (c *Cache) Load(ctx context.Context, accept func(*Meta) bool) (meta *Meta, ok bool, err error) {
	if c.store == nil {
		return nil, false, nil
	}

	snap, err := c.store.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load heightmap cache: %w", err)
	}
	if snap == nil {
		c.log.Info("no stored heightmap cache")
		return nil, false, nil
	}
	if accept != nil && !accept(snap.Meta) {
		c.log.Info("stored heightmap cache belongs to another session, ignoring", "tiles", len(snap.Tiles))
		return snap.Meta, false, nil
	}

	added := 0
	for _, e := range snap.Tiles {
		if e.Heightmap == nil {
			continue
		}
		if c.Put(e.Key, e.Heightmap) {
			added++
		}
	}
	c.log.Info("loaded heightmap cache", "tiles", added)
	return snap.Meta, true, nil
}

// Persist saves meta and every cached heightmap to the store.
func (c *Cache) Persist(ctx context.Context, meta *Meta) error {
	if c.store == nil {
		return nil
	}

	snap := &Snapshot{Meta: meta, Tiles: c.Entries()}
	if err := c.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist heightmap cache: %w", err)
	}
	c.log.Info("persisted heightmap cache", "tiles", len(snap.Tiles))
	return nil
}
