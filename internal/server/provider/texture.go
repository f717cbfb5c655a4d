package provider

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// CropChunk cuts chunk i out of a map image of the whole parent block.
// Chunk rows count from the south while image rows count from the north,
// so the block row is flipped.
func CropChunk(img image.Image, i int) (image.Image, error) {
	row, col, err := heightmap.ChunkBlock(i)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := b.Dx()/heightmap.GridWidth, b.Dy()/heightmap.GridWidth
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: image %v too small to split", heightmap.ErrInvalidGeometry, b)
	}

	x0 := b.Min.X + col*w
	y0 := b.Min.Y + (heightmap.GridWidth-1-row)*h
	r := image.Rect(x0, y0, x0+w, y0+h)

	if si, ok := img.(subImager); ok {
		return si.SubImage(r), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}
