package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource"
	"github.com/OCharnyshevich/geoterrain/internal/server/session"
	"github.com/OCharnyshevich/geoterrain/internal/stream"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

type fakeElevations struct {
	calls atomic.Int32
	err   error
	boxes chan geo.BBox
}

func (f *fakeElevations) Elevations(_ context.Context, bbox geo.BBox, rows, cols int) ([]int, error) {
	f.calls.Add(1)
	if f.boxes != nil {
		f.boxes <- bbox
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]int, rows*cols)
	for i := range out {
		out[i] = 100 * (i + 1)
	}
	return out, nil
}

// blockImages paints each of the 3×3 blocks of a 12×12 image with a colour
// whose red channel is the block's image row and green its column.
type blockImages struct{ err error }

func (b blockImages) Image(context.Context, geo.LatLon, int, int) (image.Image, error) {
	if b.err != nil {
		return nil, b.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := range 12 {
		for x := range 12 {
			img.Set(x, y, color.RGBA{R: uint8(y / 4), G: uint8(x / 4), A: 255})
		}
	}
	return img, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)) }

func newTestProvider(t *testing.T, elev mapsource.ElevationSource, images mapsource.ImageSource, center geo.LatLon) (*HeightmapProvider, *cache.Cache) {
	t.Helper()
	c := cache.New(nil, quiet(), 0)
	sess := session.New(session.Options{
		Center:    center,
		Zoom:      12,
		TileWidth: 4,
		CellSize:  mgl64.Vec3{10, 10, 10},
	}, c, nil, nil, quiet())

	p := New(sess, elev, images, Options{Rows: 2, TileWidth: 4, Passes: 1, Radius: 1, Textures: images != nil}, quiet())
	return p, c
}

var zermatt = geo.LatLon{Lat: 46.02, Lon: 7.75}

func TestTileSynthesizesParentBlock(t *testing.T) {
	elev := &fakeElevations{}
	p, c := newTestProvider(t, elev, nil, zermatt)
	ctx := context.Background()

	tile, err := p.Tile(ctx, geo.CellKey{}, mgl64.Vec3{})
	require.NoError(t, err)
	assert.False(t, tile.Fallback)
	require.NotNil(t, tile.Heightmap)
	assert.Equal(t, 4, tile.Heightmap.Width)
	assert.Equal(t, mgl64.Vec3{10, 10, 10}, tile.Size)
	assert.Nil(t, tile.Texture)

	assert.Equal(t, 9, c.Len())
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			assert.True(t, c.Has(geo.CellKey{X: dx, Z: dz}))
		}
	}

	neighbour, err := p.Tile(ctx, geo.CellKey{X: 1, Z: 1}, mgl64.Vec3{10, 0, 10})
	require.NoError(t, err)
	cached, _ := c.Get(geo.CellKey{X: 1, Z: 1})
	assert.Same(t, cached, neighbour.Heightmap)
	assert.Equal(t, int32(1), elev.calls.Load())
}

func TestAdjacentParentBlocksDoNotOverlap(t *testing.T) {
	elev := &fakeElevations{}
	p, c := newTestProvider(t, elev, nil, zermatt)
	ctx := context.Background()

	_, err := p.Tile(ctx, geo.CellKey{}, mgl64.Vec3{})
	require.NoError(t, err)
	before, _ := c.Get(geo.CellKey{X: 1})

	_, err = p.Tile(ctx, geo.CellKey{X: 2}, mgl64.Vec3{20, 0, 0})
	require.NoError(t, err)
	after, _ := c.Get(geo.CellKey{X: 1})

	assert.Same(t, before, after)
	assert.Equal(t, 18, c.Len())
	assert.Equal(t, int32(2), elev.calls.Load())
	for dz := -1; dz <= 1; dz++ {
		for x := 2; x <= 4; x++ {
			assert.True(t, c.Has(geo.CellKey{X: x, Z: dz}))
		}
	}
}

func TestParentCenter(t *testing.T) {
	tests := []struct {
		key, want geo.CellKey
	}{
		{geo.CellKey{}, geo.CellKey{}},
		{geo.CellKey{X: 1, Z: -1}, geo.CellKey{}},
		{geo.CellKey{X: -1, Z: 1}, geo.CellKey{}},
		{geo.CellKey{X: 2, Z: 0}, geo.CellKey{X: 3, Z: 0}},
		{geo.CellKey{X: 4, Z: -2}, geo.CellKey{X: 3, Z: -3}},
		{geo.CellKey{X: -2, Z: -4}, geo.CellKey{X: -3, Z: -3}},
		{geo.CellKey{X: -5, Z: 5}, geo.CellKey{X: -6, Z: 6}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parentCenter(tt.key), "key %v", tt.key)
	}
}

func TestParentBlockBoundingBox(t *testing.T) {
	elev := &fakeElevations{boxes: make(chan geo.BBox, 1)}
	p, _ := newTestProvider(t, elev, nil, zermatt)

	// (3,-2) belongs to the block centered on (3,-3).
	_, err := p.Tile(context.Background(), geo.CellKey{X: 3, Z: -2}, mgl64.Vec3{})
	require.NoError(t, err)

	box := <-elev.boxes
	meta := p.sess.Meta()
	center := box.Center()
	assert.InDelta(t, zermatt.Lon+meta.ExtentX, center.Lon, 1e-9)
	assert.InDelta(t, zermatt.Lat-meta.ExtentZ, center.Lat, 1e-9)
	assert.InDelta(t, meta.ExtentX, box.SpanX(), 1e-9)
}

type countingSink struct {
	mu       sync.Mutex
	attached int
}

func (s *countingSink) Attach(*stream.Tile) (stream.TileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached++
	return stream.TileHandle(fmt.Sprint(s.attached)), nil
}

func (s *countingSink) Detach(stream.TileHandle) error { return nil }

func TestFirstWindowFetchesOnce(t *testing.T) {
	for _, workers := range []int{0, 4, 9} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			elev := &fakeElevations{}
			p, _ := newTestProvider(t, elev, nil, zermatt)
			ctrl, err := stream.NewController(stream.Params{GridSize: 30, ThresholdPercent: 10})
			require.NoError(t, err)

			sink := &countingSink{}
			s := stream.NewStreamer(ctrl, p, sink, workers, quiet())
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.Step(ctx, mgl64.Vec3{}))
			require.NoError(t, s.Wait(ctx))

			assert.Equal(t, 9, ctrl.Live())
			assert.Equal(t, int32(1), elev.calls.Load())

			// One step east needs a single new block for the x=2 column.
			require.NoError(t, s.Step(ctx, mgl64.Vec3{7, 0, 0}))
			require.NoError(t, s.Wait(ctx))
			assert.Equal(t, 9, ctrl.Live())
			assert.Equal(t, int32(2), elev.calls.Load())
		})
	}
}

func TestFetchFailureFallsBackToFlat(t *testing.T) {
	elev := &fakeElevations{err: mapsource.ErrFetch}
	p, c := newTestProvider(t, elev, nil, zermatt)

	tile, err := p.Tile(context.Background(), geo.CellKey{}, mgl64.Vec3{})
	require.NoError(t, err)
	assert.True(t, tile.Fallback)
	assert.Equal(t, 4, tile.Heightmap.Width)
	assert.Equal(t, 0.0, tile.Heightmap.Stats().Max)
	assert.Zero(t, c.Len())

	elev.err = nil
	tile, err = p.Tile(context.Background(), geo.CellKey{}, mgl64.Vec3{})
	require.NoError(t, err)
	assert.False(t, tile.Fallback)
	assert.Equal(t, int32(2), elev.calls.Load())
}

func TestSessionFailurePropagates(t *testing.T) {
	p, _ := newTestProvider(t, &fakeElevations{}, nil, geo.LatLon{})
	_, err := p.Tile(context.Background(), geo.CellKey{}, mgl64.Vec3{})
	assert.ErrorIs(t, err, session.ErrNoLocation)
}

func TestConcurrentRequestsSynthesizeOnce(t *testing.T) {
	elev := &fakeElevations{}
	p, _ := newTestProvider(t, elev, nil, zermatt)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tile, err := p.Tile(context.Background(), geo.CellKey{}, mgl64.Vec3{})
			assert.NoError(t, err)
			assert.False(t, tile.Fallback)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), elev.calls.Load())
}

func TestTileTexture(t *testing.T) {
	p, _ := newTestProvider(t, &fakeElevations{}, blockImages{}, zermatt)

	tile, err := p.Tile(context.Background(), geo.CellKey{}, mgl64.Vec3{})
	require.NoError(t, err)
	require.NotNil(t, tile.Texture)
	assert.Equal(t, 4, tile.Texture.Bounds().Dx())

	r, g, _, _ := tile.Texture.At(tile.Texture.Bounds().Min.X, tile.Texture.Bounds().Min.Y).RGBA()
	assert.Equal(t, uint32(1*0x101), r)
	assert.Equal(t, uint32(1*0x101), g)
}

func TestTextureFailureLeavesTileUntextured(t *testing.T) {
	p, _ := newTestProvider(t, &fakeElevations{}, blockImages{err: errors.New("quota")}, zermatt)

	tile, err := p.Tile(context.Background(), geo.CellKey{}, mgl64.Vec3{})
	require.NoError(t, err)
	assert.False(t, tile.Fallback)
	assert.Nil(t, tile.Texture)
}

func TestCropChunk(t *testing.T) {
	img, _ := blockImages{}.Image(context.Background(), geo.LatLon{}, 0, 0)

	tests := []struct {
		chunk       int
		imgRow, col uint8
	}{
		{0, 2, 0}, // south-west is the bottom-left of the image
		{2, 2, 2},
		{4, 1, 1},
		{6, 0, 0},
		{8, 0, 2},
	}
	for _, tt := range tests {
		sub, err := CropChunk(img, tt.chunk)
		require.NoError(t, err)
		b := sub.Bounds()
		assert.Equal(t, 4, b.Dx())
		assert.Equal(t, 4, b.Dy())
		r, g, _, _ := sub.At(b.Min.X+1, b.Min.Y+1).RGBA()
		assert.Equal(t, uint32(tt.imgRow)*0x101, r, "chunk %d row", tt.chunk)
		assert.Equal(t, uint32(tt.col)*0x101, g, "chunk %d col", tt.chunk)
	}

	_, err := CropChunk(img, 9)
	assert.Error(t, err)
	_, err = CropChunk(image.NewRGBA(image.Rect(0, 0, 2, 2)), 0)
	assert.Error(t, err)
}
