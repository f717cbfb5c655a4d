package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/geoterrain/internal/server/cache"
	"github.com/OCharnyshevich/geoterrain/internal/server/config"
	"github.com/OCharnyshevich/geoterrain/internal/server/mapsource/synthetic"
	"github.com/OCharnyshevich/geoterrain/internal/server/provider"
	"github.com/OCharnyshevich/geoterrain/internal/server/session"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)) }

func newTestServer(t *testing.T) (*httptest.Server, *session.Session) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.GridSize = 30
	cfg.ThresholdPercent = 10
	cfg.Workers = 0

	c := cache.New(nil, quiet(), 0)
	sess := session.New(session.Options{
		Center:    geo.LatLon{Lat: cfg.Latitude, Lon: cfg.Longitude},
		Zoom:      cfg.Zoom,
		TileWidth: 4,
		CellSize:  mgl64.Vec3{10, 10, 10},
	}, c, nil, nil, quiet())
	tiles := provider.New(sess, synthetic.New(7), nil, provider.Options{Rows: 2, TileWidth: 4, Passes: 1, Radius: 1}, quiet())

	ts := httptest.NewServer(New(cfg, quiet(), sess, tiles).Handler())
	t.Cleanup(ts.Close)
	return ts, sess
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func countTypes(t *testing.T, conn *websocket.Conn, n int) map[string]int {
	t.Helper()
	counts := map[string]int{}
	for range n {
		msg := readMessage(t, conn)
		counts[msg["type"].(string)]++
	}
	return counts
}

func TestStreamAttachesWindowAndShifts(t *testing.T) {
	ts, sess := newTestServer(t)
	conn := dial(t, ts)

	hello := readMessage(t, conn)
	assert.Equal(t, "hello", hello["type"])
	assert.NotEmpty(t, hello["session_id"])

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "position"}))
	assert.Equal(t, map[string]int{"attach": 9}, countTypes(t, conn, 9))

	// Past the east boundary of the center cell (5 + 1).
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "position", X: 7}))
	assert.Equal(t, map[string]int{"detach": 3, "attach": 3}, countTypes(t, conn, 6))

	assert.True(t, sess.Meta().Anchored)
	assert.True(t, sess.Cache().Has(geo.CellKey{X: 2, Z: 0}))
}

func TestAttachCarriesHeights(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	readMessage(t, conn)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "position", X: 3, Z: -2}))

	msg := readMessage(t, conn)
	require.Equal(t, "attach", msg["type"])
	assert.EqualValues(t, 4, msg["width"])
	assert.NotEmpty(t, msg["handle"])

	raw, err := base64.StdEncoding.DecodeString(msg["heights"].(string))
	require.NoError(t, err)
	assert.Len(t, raw, 4*4*4)
}

func TestSessionEndpoint(t *testing.T) {
	ts, sess := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, err = sess.Ensure(t.Context())
	require.NoError(t, err)

	resp, err = http.Get(ts.URL + "/api/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta cache.Meta
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Equal(t, sess.Meta().SessionID, meta.SessionID)
	assert.Equal(t, 12, meta.Zoom)
}

func TestTilesAndPreview(t *testing.T) {
	ts, sess := newTestServer(t)
	conn := dial(t, ts)
	readMessage(t, conn)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "position"}))
	countTypes(t, conn, 9)

	resp, err := http.Get(ts.URL + "/api/tiles")
	require.NoError(t, err)
	var keys []geo.CellKey
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&keys))
	resp.Body.Close()
	assert.Len(t, keys, sess.Cache().Len())
	assert.Contains(t, keys, geo.CellKey{})

	tests := []struct {
		path   string
		status int
		ctype  string
	}{
		{"/preview/tile.html?x=0&z=0", http.StatusOK, "text/html"},
		{"/preview/tile.png?x=1&z=-1", http.StatusOK, "image/png"},
		{"/preview/tile.png?x=40&z=40", http.StatusNotFound, "application/json"},
		{"/preview/tile.html?x=a", http.StatusBadRequest, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), tt.ctype)
		})
	}
}

func TestStreamReportsSessionError(t *testing.T) {
	cfg := config.DefaultConfig()
	c := cache.New(nil, quiet(), 0)
	sess := session.New(session.Options{Zoom: 12, TileWidth: 4, CellSize: mgl64.Vec3{10, 10, 10}}, c, nil, nil, quiet())
	ts := httptest.NewServer(New(cfg, quiet(), sess, nil).Handler())
	defer ts.Close()

	conn := dial(t, ts)
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "no valid coordinates")
}
