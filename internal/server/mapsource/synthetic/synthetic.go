// Package synthetic generates plausible elevations from seeded simplex
// noise, for running without network access or an API key.
package synthetic

import (
	"context"
	"fmt"
	"math"

	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

// Source is a deterministic mapsource.ElevationSource. Heights are a pure
// function of latitude and longitude, so overlapping boxes agree.
type Source struct {
	noise       *simplex
	Base        int     // lowest elevation in metres
	Amplitude   float64 // metres between lowest and highest point
	Frequency   float64 // noise cycles per degree
	Octaves     int
	Persistence float64
}

// New returns an alpine-looking source for seed.
func New(seed int64) *Source {
	return &Source{
		noise:       newSimplex(seed),
		Base:        400,
		Amplitude:   3200,
		Frequency:   25,
		Octaves:     5,
		Persistence: 0.5,
	}
}

// Height returns the elevation at p in metres above sea level.
func (s *Source) Height(p geo.LatLon) int {
	v := s.noise.octaves(p.Lon*s.Frequency, p.Lat*s.Frequency, s.Octaves, s.Persistence)
	return s.Base + int(math.Round((v+1)/2*s.Amplitude))
}

// Elevations samples a rows×cols grid spanning bbox edge to edge, southern
// row first.
func (s *Source) Elevations(ctx context.Context, bbox geo.BBox, rows, cols int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", mapsource.ErrFetch, err)
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", mapsource.ErrFetch, rows, cols)
	}

	out := make([]int, 0, rows*cols)
	for r := range rows {
		lat := bbox.South + bbox.SpanZ()*fraction(r, rows)
		for c := range cols {
			lon := bbox.West + bbox.SpanX()*fraction(c, cols)
			out = append(out, s.Height(geo.LatLon{Lat: lat, Lon: lon}))
		}
	}
	return out, nil
}

func fraction(i, n int) float64 {
	if n == 1 {
		return 0.5
	}
	return float64(i) / float64(n-1)
}
