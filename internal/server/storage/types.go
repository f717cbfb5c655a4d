package storage

import (
	"fmt"

	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

// SessionData is the content of session.json.
type SessionData struct {
	Version int          `json:"version"`
	Meta    *cache.Meta  `json:"meta,omitempty"`
	Tiles   []TileRecord `json:"tiles"`
}

// TileRecord points at one heightmap blob under heightmaps/.
type TileRecord struct {
	X     int    `json:"x"`
	Z     int    `json:"z"`
	Width int    `json:"width"`
	File  string `json:"file"`
}

// Key returns the cell the record belongs to.
func (r TileRecord) Key() geo.CellKey {
	return geo.CellKey{X: r.X, Z: r.Z}
}

func blobName(k geo.CellKey) string {
	return fmt.Sprintf("%d_%d.hm", k.X, k.Z)
}

const sessionVersion = 1
