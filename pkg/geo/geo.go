// Package geo holds the small amount of geometry shared by the terrain
// pipeline: geographic boxes, world-space lattice keys and the linear
// mapping between the two.
package geo

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// LatLon is a WGS84 coordinate in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p LatLon) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// SpanX returns the east-west extent in degrees.
func (b BBox) SpanX() float64 { return b.East - b.West }

// SpanZ returns the north-south extent in degrees.
func (b BBox) SpanZ() float64 { return b.North - b.South }

// Center returns the midpoint of the box.
func (b BBox) Center() LatLon {
	return LatLon{Lat: (b.South + b.North) / 2, Lon: (b.West + b.East) / 2}
}

// String formats the box as "south,west,north,east".
func (b BBox) String() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.South, b.West, b.North, b.East)
}

// BoxAround returns the box of the given spans centered on c.
func BoxAround(c LatLon, spanX, spanZ float64) BBox {
	return BBox{
		South: c.Lat - spanZ/2,
		West:  c.Lon - spanX/2,
		North: c.Lat + spanZ/2,
		East:  c.Lon + spanX/2,
	}
}

// ViewBox approximates the area covered by a square web map of mapSize
// pixels at the given zoom. Latitude span is shrunk by cos(lat); no
// reprojection is attempted.
func ViewBox(center LatLon, zoom, mapSize int) BBox {
	spanX := float64(mapSize) * 360 / (256 * math.Exp2(float64(zoom)))
	spanZ := spanX * math.Cos(center.Lat*math.Pi/180)
	return BoxAround(center, spanX, spanZ)
}

// CellKey is the integer position of a grid cell relative to a lattice
// origin, in cell units. +X is east, +Z is north.
type CellKey struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Add returns k shifted by (dx, dz) cells.
func (k CellKey) Add(dx, dz int) CellKey {
	return CellKey{X: k.X + dx, Z: k.Z + dz}
}

func (k CellKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.X, k.Z)
}

// Lattice snaps world positions to cell centers. Only the horizontal axes
// take part; the vertical coordinate is ignored.
type Lattice struct {
	Origin mgl64.Vec3
	Cell   mgl64.Vec3
}

// Key returns the cell whose center is nearest to p.
func (l Lattice) Key(p mgl64.Vec3) CellKey {
	return CellKey{
		X: int(math.Round((p.X() - l.Origin.X()) / l.Cell.X())),
		Z: int(math.Round((p.Z() - l.Origin.Z()) / l.Cell.Z())),
	}
}

// Center returns the world position of the center of cell k (Y = 0).
func (l Lattice) Center(k CellKey) mgl64.Vec3 {
	return mgl64.Vec3{
		l.Origin.X() + float64(k.X)*l.Cell.X(),
		0,
		l.Origin.Z() + float64(k.Z)*l.Cell.Z(),
	}
}

// Chebyshev returns the larger of the per-axis cell distances between a and b.
func Chebyshev(a, b CellKey) int {
	dx, dz := a.X-b.X, a.Z-b.Z
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	return max(dx, dz)
}
