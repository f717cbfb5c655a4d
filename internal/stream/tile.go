package stream

import (
	"context"
	"image"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCharnyshevich/geoterrain/pkg/geo"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

// Tile is one cell of terrain ready to be attached to the viewer.
type Tile struct {
	Key       geo.CellKey
	Center    mgl64.Vec3 // world position of the cell center
	Size      mgl64.Vec3 // world size of the cell
	Heightmap *heightmap.Heightmap
	Texture   image.Image // nil when untextured
	Fallback  bool        // Heightmap is a placeholder, not synthesized terrain
}

// TileHandle identifies a tile attached to a TerrainSink.
type TileHandle string

// TileSource produces the tile for a cell. Implementations must be safe for
// concurrent use.
type TileSource interface {
	Tile(ctx context.Context, key geo.CellKey, center mgl64.Vec3) (*Tile, error)
}

// TerrainSink is where live tiles go. It is only called from the goroutine
// driving the Streamer.
type TerrainSink interface {
	Attach(t *Tile) (TileHandle, error)
	Detach(h TileHandle) error
}
