// Package session holds the geographic reference frame shared by every
// tile request: where the world origin sits on the map, how large a grid
// cell is in degrees and which heightmaps have already been synthesized.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

// ErrNoLocation is returned when neither a geocodable query nor explicit
// coordinates are configured.
var ErrNoLocation = errors.New("no valid coordinates")

// Options describes the requested reference frame.
type Options struct {
	Location  string     // free-text address, geocoded when set
	Center    geo.LatLon // used when Location is empty or cannot be resolved
	Zoom      int
	TileWidth int        // heightmap pixels per tile; the map view is 3× this
	CellSize  mgl64.Vec3 // world size of one tile
	AllowLoad bool       // restore a matching stored session
}

// Session is created once per server and initialized lazily by the first
// tile request.
type Session struct {
	opts     Options
	cache    *cache.Cache
	geocoder mapsource.GeocodeSource
	bounds   mapsource.BoundsSource
	log      *slog.Logger

	mu   sync.Mutex
	meta *cache.Meta
}

// New creates an uninitialized session. geocoder and bounds may be nil.
func New(opts Options, c *cache.Cache, geocoder mapsource.GeocodeSource, bounds mapsource.BoundsSource, log *slog.Logger) *Session {
	return &Session{
		opts:     opts,
		cache:    c,
		geocoder: geocoder,
		bounds:   bounds,
		log:      log,
	}
}

// Cache returns the heightmap cache owned by the session.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Ensure initializes the reference frame on first use and returns a copy of
// its metadata. A failed initialization is retried by the next call.
func (s *Session) Ensure(ctx context.Context) (*cache.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta != nil {
		return s.metaCopy(), nil
	}

	center, err := s.resolveCenter(ctx)
	if err != nil {
		return nil, err
	}

	if s.opts.AllowLoad {
		stored, ok, err := s.cache.Load(ctx, func(m *cache.Meta) bool { return s.matches(m, center) })
		if err != nil {
			s.log.Warn("stored session unreadable, starting fresh", "error", err)
		} else if ok && stored != nil {
			restored := *stored
			s.meta = &restored
			s.log.Info("restored session", "id", stored.SessionID, "center", stored.Center, "zoom", stored.Zoom, "tiles", s.cache.Len())
			return s.metaCopy(), nil
		}
	}

	mapSize := 3 * s.opts.TileWidth
	bbox := geo.ViewBox(center, s.opts.Zoom, mapSize)
	if s.bounds != nil {
		b, err := s.bounds.Bounds(ctx, center, s.opts.Zoom, mapSize)
		if err != nil {
			s.log.Warn("map bounds unavailable, approximating", "error", err)
		} else {
			bbox = b
		}
	}

	s.meta = &cache.Meta{
		SessionID: uuid.New().String(),
		Zoom:      s.opts.Zoom,
		Center:    center,
		FirstBBox: bbox,
		CellSize:  s.opts.CellSize,
		ExtentX:   bbox.SpanX(),
		ExtentZ:   bbox.SpanZ(),
		TileWidth: s.opts.TileWidth,
		CreatedAt: time.Now().UTC(),
	}
	s.log.Info("session started", "id", s.meta.SessionID, "center", center, "zoom", s.opts.Zoom, "bbox", bbox)
	return s.metaCopy(), nil
}

func (s *Session) resolveCenter(ctx context.Context) (geo.LatLon, error) {
	if s.opts.Location != "" && s.geocoder != nil {
		p, err := s.geocoder.Resolve(ctx, s.opts.Location)
		if err == nil {
			return p, nil
		}
		s.log.Warn("geocoding failed", "query", s.opts.Location, "error", err)
	}
	if s.opts.Center.Lat == 0 && s.opts.Center.Lon == 0 {
		return geo.LatLon{}, ErrNoLocation
	}
	return s.opts.Center, nil
}

func (s *Session) matches(m *cache.Meta, center geo.LatLon) bool {
	if m == nil {
		return false
	}
	return m.Zoom == s.opts.Zoom &&
		m.TileWidth == s.opts.TileWidth &&
		m.CellSize.ApproxEqual(s.opts.CellSize) &&
		math.Abs(m.Center.Lat-center.Lat) < 1e-9 &&
		math.Abs(m.Center.Lon-center.Lon) < 1e-9
}

// Meta returns a copy of the session metadata, or nil before Ensure
// succeeded.
func (s *Session) Meta() *cache.Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaCopy()
}

// metaCopy must be called with s.mu held.
func (s *Session) metaCopy() *cache.Meta {
	if s.meta == nil {
		return nil
	}
	m := *s.meta
	return &m
}

// Anchor returns the world origin of the cell lattice. The first caller
// after Ensure fixes it to p; restored sessions keep their stored origin.
func (s *Session) Anchor(p mgl64.Vec3) mgl64.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta == nil {
		return mgl64.Vec3{p.X(), 0, p.Z()}
	}
	if !s.meta.Anchored {
		s.meta.FirstSpawn = mgl64.Vec3{p.X(), 0, p.Z()}
		s.meta.Anchored = true
	}
	return s.meta.FirstSpawn
}

// CellCenter returns the geographic center of cell k.
func (s *Session) CellCenter(k geo.CellKey) (geo.LatLon, error) {
	m := s.Meta()
	if m == nil {
		return geo.LatLon{}, fmt.Errorf("session not initialized")
	}
	return geo.LatLon{
		Lat: m.Center.Lat + m.ExtentZ/3*float64(k.Z),
		Lon: m.Center.Lon + m.ExtentX/3*float64(k.X),
	}, nil
}

// ParentBBox returns the 3×3-cell box centered on cell k.
func (s *Session) ParentBBox(k geo.CellKey) (geo.BBox, error) {
	c, err := s.CellCenter(k)
	if err != nil {
		return geo.BBox{}, err
	}
	m := s.Meta()
	return geo.BoxAround(c, m.ExtentX, m.ExtentZ), nil
}

// Persist saves the session metadata and cached heightmaps. It is a no-op
// before initialization.
func (s *Session) Persist(ctx context.Context) error {
	m := s.Meta()
	if m == nil {
		return nil
	}
	return s.cache.Persist(ctx, m)
}
