// Package provider synthesizes terrain tiles for the streamer: cached
// heightmaps when available, otherwise elevations are fetched for the 3×3
// block around the requested cell, interpolated, smoothed and cut into nine
// cached chunks.
package provider

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource"
	"github.com/OCharnyshevich/geoterrain/internal/server/session"
	"github.com/OCharnyshevich/geoterrain/internal/stream"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

// Options tunes heightmap synthesis.
type Options struct {
	Rows      int // elevation samples per side of the parent block
	TileWidth int // heightmap pixels per side of one tile
	Passes    int // smoothing passes
	Radius    int // smoothing neighbours per direction
	Textures  bool
}

// HeightmapProvider implements stream.TileSource.
type HeightmapProvider struct {
	sess   *session.Session
	cache  *cache.Cache
	elev   mapsource.ElevationSource
	images mapsource.ImageSource
	opts   Options
	log    *slog.Logger

	group singleflight.Group
}

// New creates a provider. images may be nil.
func New(sess *session.Session, elev mapsource.ElevationSource, images mapsource.ImageSource, opts Options, log *slog.Logger) *HeightmapProvider {
	return &HeightmapProvider{
		sess:   sess,
		cache:  sess.Cache(),
		elev:   elev,
		images: images,
		opts:   opts,
		log:    log,
	}
}

// Tile returns the terrain for key. Synthesis failures do not fail the
// tile: it falls back to flat terrain, marked as such, and nothing is
// cached so a later request tries again.
func (p *HeightmapProvider) Tile(ctx context.Context, key geo.CellKey, center mgl64.Vec3) (*stream.Tile, error) {
	meta, err := p.sess.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	t := &stream.Tile{Key: key, Center: center, Size: meta.CellSize}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := p.heightmap(gctx, key)
		t.Heightmap = h
		return err
	})
	if p.opts.Textures && p.images != nil {
		g.Go(func() error {
			img, err := p.texture(gctx, meta, key)
			if err != nil {
				p.log.Warn("tile texture unavailable", "key", key, "error", err)
				return nil
			}
			t.Texture = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn("heightmap synthesis failed, using flat tile", "key", key, "error", err)
		t.Heightmap = heightmap.Flat(p.opts.TileWidth, 0)
		t.Texture = nil
		t.Fallback = true
	}
	return t, nil
}

func (p *HeightmapProvider) heightmap(ctx context.Context, key geo.CellKey) (*heightmap.Heightmap, error) {
	if h, ok := p.cache.Get(key); ok {
		return h, nil
	}

	center := parentCenter(key)
	_, err, shared := p.group.Do(center.String(), func() (any, error) {
		if p.cache.Has(key) {
			return nil, nil
		}
		return nil, p.synthesize(ctx, center)
	})
	if shared {
		p.log.Debug("joined in-flight synthesis", "key", key, "parent", center)
	}
	if err != nil {
		return nil, err
	}

	h, ok := p.cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("cell %v missing after synthesis", key)
	}
	return h, nil
}

// parentCenter returns the center cell of the parent block holding key.
// Parent blocks tile the lattice without overlap; the block centered on
// the origin covers cells -1..1 on both axes.
func parentCenter(key geo.CellKey) geo.CellKey {
	return geo.CellKey{
		X: heightmap.GridWidth * floorDiv(key.X+1, heightmap.GridWidth),
		Z: heightmap.GridWidth * floorDiv(key.Z+1, heightmap.GridWidth),
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// synthesize builds the parent block centered on cell center and caches
// its nine chunks.
func (p *HeightmapProvider) synthesize(ctx context.Context, center geo.CellKey) error {
	bbox, err := p.sess.ParentBBox(center)
	if err != nil {
		return err
	}
	meta := p.sess.Meta()

	samples, err := p.elev.Elevations(ctx, bbox, p.opts.Rows, p.opts.Rows)
	if err != nil {
		return fmt.Errorf("fetch elevations for %v: %w", center, err)
	}

	parent, err := heightmap.Interpolate(samples, p.opts.Rows, heightmap.GridWidth*p.opts.TileWidth, meta.Zoom)
	if err != nil {
		return fmt.Errorf("interpolate %v: %w", center, err)
	}
	if _, err := heightmap.Smooth(parent, p.opts.Passes, p.opts.Radius); err != nil {
		return fmt.Errorf("smooth %v: %w", center, err)
	}
	chunks, err := heightmap.Split(parent)
	if err != nil {
		return fmt.Errorf("split %v: %w", center, err)
	}

	stored := 0
	for i, chunk := range chunks {
		row, col, _ := heightmap.ChunkBlock(i)
		if p.cache.Put(center.Add(col-1, row-1), chunk) {
			stored++
		}
	}
	p.log.Debug("synthesized parent block", "center", center, "bbox", bbox, "stored", stored)
	return nil
}

// texture fetches the map image of the parent block and crops the center
// chunk, which is the requested cell.
func (p *HeightmapProvider) texture(ctx context.Context, meta *cache.Meta, key geo.CellKey) (image.Image, error) {
	c, err := p.sess.CellCenter(key)
	if err != nil {
		return nil, err
	}
	img, err := p.images.Image(ctx, c, meta.Zoom, heightmap.GridWidth*p.opts.TileWidth)
	if err != nil {
		return nil, err
	}
	return CropChunk(img, heightmap.ChunkCount/2)
}
