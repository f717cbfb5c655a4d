package heightmap

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// GridWidth is the number of chunks per side of a parent heightmap.
const GridWidth = 3

// ChunkCount is the number of chunks in a parent heightmap.
const ChunkCount = GridWidth * GridWidth

// chunkTable maps a chunk index to its (row, col) block. Index 0 is the
// south-west chunk; indices run east along a row, then north. Pixel
// slicing, cache keys, texture crops and world placement all read it.
var chunkTable = [ChunkCount][2]int{
	0: {0, 0},
	1: {0, 1},
	2: {0, 2},
	3: {1, 0},
	4: {1, 1},
	5: {1, 2},
	6: {2, 0},
	7: {2, 1},
	8: {2, 2},
}

// ChunkBlock returns the (row, col) block of chunk i within the 3×3 parent.
func ChunkBlock(i int) (row, col int, err error) {
	if i < 0 || i >= ChunkCount {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidChunk, i)
	}
	return chunkTable[i][0], chunkTable[i][1], nil
}

// ChunkOrigin returns the pixel offset of chunk i inside its parent.
func ChunkOrigin(i, tileWidth int) (row, col int, err error) {
	r, c, err := ChunkBlock(i)
	if err != nil {
		return 0, 0, err
	}
	return r * tileWidth, c * tileWidth, nil
}

// ChunkPlacement returns the world position of chunk i when chunk 0 sits at
// base: base + (col·cell.X, 0, row·cell.Z).
func ChunkPlacement(i int, base, cell mgl64.Vec3) (mgl64.Vec3, error) {
	r, c, err := ChunkBlock(i)
	if err != nil {
		return mgl64.Vec3{}, err
	}
	return base.Add(mgl64.Vec3{float64(c) * cell.X(), 0, float64(r) * cell.Z()}), nil
}

// Split cuts a (3w)×(3w) heightmap into 9 w×w tiles indexed as chunkTable.
func Split(h *Heightmap) ([]*Heightmap, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h.Width%GridWidth != 0 {
		return nil, fmt.Errorf("%w: width %d is not divisible by %d", ErrInvalidGeometry, h.Width, GridWidth)
	}

	tw := h.Width / GridWidth
	tiles := make([]*Heightmap, ChunkCount)
	for i := range tiles {
		r0, c0, _ := ChunkOrigin(i, tw)
		t := New(tw)
		for m := 0; m < tw; m++ {
			src := (r0+m)*h.Width + c0
			copy(t.Data[m*tw:(m+1)*tw], h.Data[src:src+tw])
		}
		tiles[i] = t
	}
	return tiles, nil
}

// Stitch reassembles the 9 tiles produced by Split.
func Stitch(tiles []*Heightmap) (*Heightmap, error) {
	if len(tiles) != ChunkCount {
		return nil, fmt.Errorf("%w: %d tiles", ErrInvalidGeometry, len(tiles))
	}
	for i, t := range tiles {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
	}
	tw := tiles[0].Width
	for i, t := range tiles {
		if t.Width != tw {
			return nil, fmt.Errorf("%w: tile %d width %d, want %d", ErrInvalidGeometry, i, t.Width, tw)
		}
	}

	h := New(tw * GridWidth)
	for i, t := range tiles {
		r0, c0, _ := ChunkOrigin(i, tw)
		for m := 0; m < tw; m++ {
			dst := (r0+m)*h.Width + c0
			copy(h.Data[dst:dst+tw], t.Data[m*tw:(m+1)*tw])
		}
	}
	return h, nil
}
