package heightmap

import (
	"fmt"
	"math"
)

const (
	// MaxReach is the highest terrain the normalization accounts for, in
	// metres (Mount Everest).
	MaxReach = 8850.0
	// MaxZoom is the deepest zoom level of the map provider.
	MaxZoom = 21
)

// Interpolate expands a rows×rows grid of elevations (metres, row-major,
// south row first) into a width×width heightmap.
//
// Each sample becomes an anchor pixel at a multiple of step = width/rows and
// fills its own step×step block with a cone that falls off linearly with the
// distance from the anchor. Blocks never blend into each other.
//
// Empty input and constant input yield a flat plane of 0.
func Interpolate(samples []int, rows, width, zoom int) (*Heightmap, error) {
	if rows <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: rows=%d width=%d", ErrInvalidGeometry, rows, width)
	}
	if width%rows != 0 {
		return nil, fmt.Errorf("%w: width %d is not a multiple of %d rows", ErrInvalidGeometry, width, rows)
	}
	if zoom < 1 || zoom > MaxZoom {
		return nil, fmt.Errorf("%w: %d outside [1,%d]", ErrInvalidZoom, zoom, MaxZoom)
	}
	if len(samples) == 0 {
		return Flat(width, 0), nil
	}
	if len(samples) != rows*rows {
		return nil, fmt.Errorf("%w: %d samples for a %dx%d grid", ErrInvalidGeometry, len(samples), rows, rows)
	}

	lo, hi := samples[0], samples[0]
	for _, e := range samples[1:] {
		lo = min(lo, e)
		hi = max(hi, e)
	}
	if lo == hi {
		return Flat(width, 0), nil
	}

	minElev := float64(lo)
	if minElev <= 0 {
		minElev = 1
	}
	maxElev := float64(hi)
	if minElev >= MaxReach {
		return Flat(width, 0), nil
	}
	zoomScale := float64(zoom-1) / float64(MaxZoom-1) * (maxElev - minElev) / minElev
	if zoomScale <= 0 {
		return Flat(width, 0), nil
	}

	step := width / rows
	h := New(width)
	for r := 0; r < rows; r++ {
		for c := 0; c < rows; c++ {
			v := (float64(samples[r*rows+c]) - minElev) / (MaxReach - minElev) * zoomScale
			if v < 0 {
				v = 0
			}
			fillBlock(h, r*step, c*step, step, v)
		}
	}
	return h, nil
}

// ZoomScale exposes the scale factor Interpolate applies to anchors for the
// given sample range; it is the upper bound of any anchor value.
func ZoomScale(minElev, maxElev float64, zoom int) float64 {
	if minElev <= 0 {
		minElev = 1
	}
	return float64(zoom-1) / float64(MaxZoom-1) * (maxElev - minElev) / minElev
}

// fillBlock writes the anchor at (r0, c0) and its cone over the block.
func fillBlock(h *Heightmap, r0, c0, step int, anchor float64) {
	reach := math.Sqrt2 * float64(step)
	for m := 0; m < step; m++ {
		row := (r0 + m) * h.Width
		for n := 0; n < step; n++ {
			d := math.Hypot(float64(m), float64(n))
			h.Data[row+c0+n] = anchor * (1 - d/reach)
		}
	}
}
