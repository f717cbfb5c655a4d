package server

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image/png"
	"math"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/OCharnyshevich/geoterrain/internal/stream"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

// Messages sent to the viewer.
type (
	helloMessage struct {
		Type      string     `json:"type"`
		SessionID string     `json:"session_id"`
		Center    geo.LatLon `json:"center"`
		Zoom      int        `json:"zoom"`
		GridSize  float64    `json:"grid_size"`
		TileWidth int        `json:"tile_width"`
	}

	attachMessage struct {
		Type     string            `json:"type"`
		Handle   stream.TileHandle `json:"handle"`
		Key      geo.CellKey       `json:"key"`
		Center   [3]float64        `json:"center"`
		Size     [3]float64        `json:"size"`
		Width    int               `json:"width"`
		Heights  string            `json:"heights"` // base64, little-endian float32, row-major from the south-west
		Texture  string            `json:"texture,omitempty"`
		Fallback bool              `json:"fallback,omitempty"`
	}

	detachMessage struct {
		Type   string            `json:"type"`
		Handle stream.TileHandle `json:"handle"`
	}

	errorMessage struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
)

// Messages received from the viewer.
type clientMessage struct {
	Type string  `json:"type"` // "position"
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// wsSink forwards tile operations to one websocket connection. Only the
// connection's streamer goroutine writes to it.
type wsSink struct {
	conn *websocket.Conn
	live map[stream.TileHandle]geo.CellKey
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn, live: make(map[stream.TileHandle]geo.CellKey)}
}

func (s *wsSink) Attach(t *stream.Tile) (stream.TileHandle, error) {
	msg := attachMessage{
		Type:     "attach",
		Handle:   stream.TileHandle(uuid.New().String()),
		Key:      t.Key,
		Center:   t.Center,
		Size:     t.Size,
		Width:    t.Heightmap.Width,
		Heights:  encodeHeights(t.Heightmap),
		Fallback: t.Fallback,
	}
	if t.Texture != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, t.Texture); err != nil {
			return "", fmt.Errorf("encode texture: %w", err)
		}
		msg.Texture = base64.StdEncoding.EncodeToString(buf.Bytes())
	}

	if err := s.conn.WriteJSON(msg); err != nil {
		return "", fmt.Errorf("send attach: %w", err)
	}
	s.live[msg.Handle] = t.Key
	return msg.Handle, nil
}

func (s *wsSink) Detach(h stream.TileHandle) error {
	if _, ok := s.live[h]; !ok {
		return fmt.Errorf("unknown tile handle %q", h)
	}
	delete(s.live, h)
	if err := s.conn.WriteJSON(detachMessage{Type: "detach", Handle: h}); err != nil {
		return fmt.Errorf("send detach: %w", err)
	}
	return nil
}

func encodeHeights(h *heightmap.Heightmap) string {
	raw := make([]byte, 4*len(h.Data))
	for i, v := range h.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
