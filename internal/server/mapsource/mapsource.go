// Package mapsource declares the remote mapping collaborators the terrain
// pipeline depends on.
package mapsource

import (
	"context"
	"errors"
	"image"

	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

// ErrFetch wraps every provider or network failure.
var ErrFetch = errors.New("fetch failed")

// ElevationSource returns rows×cols elevations in metres above sea level,
// row-major with the southern row first, covering bbox.
type ElevationSource interface {
	Elevations(ctx context.Context, bbox geo.BBox, rows, cols int) ([]int, error)
}

// ImageSource returns a square map raster of pixelSize pixels centered on
// center. The image's first pixel row is the northern edge.
type ImageSource interface {
	Image(ctx context.Context, center geo.LatLon, zoom, pixelSize int) (image.Image, error)
}

// GeocodeSource resolves a free-text location.
type GeocodeSource interface {
	Resolve(ctx context.Context, query string) (geo.LatLon, error)
}

// BoundsSource reports the box a square map of mapSize pixels covers at the
// given zoom. Sources without it fall back to geo.ViewBox.
type BoundsSource interface {
	Bounds(ctx context.Context, center geo.LatLon, zoom, mapSize int) (geo.BBox, error)
}
