package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"gonum.org/v1/plot/vg"

	"github.com/OCharnyshevich/geoterrain/internal/server/config"
	"github.com/OCharnyshevich/geoterrain/internal/server/preview"
	"github.com/OCharnyshevich/geoterrain/internal/server/session"
	"github.com/OCharnyshevich/geoterrain/internal/stream"
	"github.com/OCharnyshevich/geoterrain/pkg/geo"
)

// Server streams terrain tiles to viewers over websockets and serves
// previews of the heightmap cache.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	sess     *session.Session
	tiles    stream.TileSource
	upgrader websocket.Upgrader
}

// New creates a new Server. tiles produces the terrain for every
// connection; sess is shared by all of them.
func New(cfg *config.Config, log *slog.Logger, sess *session.Session, tiles stream.TileSource) *Server {
	return &Server{
		cfg:   cfg,
		log:   log,
		sess:  sess,
		tiles: tiles,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleStream)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/tiles", s.handleTiles)
	mux.HandleFunc("POST /api/persist", s.handlePersist)
	mux.HandleFunc("GET /preview/tile.html", s.handlePreviewHTML)
	mux.HandleFunc("GET /preview/tile.png", s.handlePreviewPNG)
	return mux
}

// Start begins listening for connections and blocks until the context is
// cancelled. The session is persisted on shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.log.Info("server started",
		"port", s.cfg.Port,
		"source", s.cfg.Source,
		"store", s.cfg.Store,
		"zoom", s.cfg.Zoom,
		"gridSize", s.cfg.GridSize,
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	s.log.Info("server shutting down")
	persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.sess.Persist(persistCtx); err != nil {
		s.log.Error("persist session", "error", err)
	}
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := s.log.With("remote", r.RemoteAddr)

	meta, err := s.sess.Ensure(ctx)
	if err != nil {
		log.Error("session unavailable", "error", err)
		conn.WriteJSON(errorMessage{Type: "error", Message: err.Error()})
		return
	}
	if err := conn.WriteJSON(helloMessage{
		Type:      "hello",
		SessionID: meta.SessionID,
		Center:    meta.Center,
		Zoom:      meta.Zoom,
		GridSize:  s.cfg.GridSize,
		TileWidth: meta.TileWidth,
	}); err != nil {
		return
	}

	first, err := readPosition(conn)
	if err != nil {
		return
	}

	origin := s.sess.Anchor(first)
	ctrl, err := stream.NewController(stream.Params{
		GridSize:         s.cfg.GridSize,
		ThresholdPercent: s.cfg.ThresholdPercent,
		Origin:           &origin,
	})
	if err != nil {
		log.Error("create controller", "error", err)
		return
	}
	streamer := stream.NewStreamer(ctrl, s.tiles, newWSSink(conn), s.cfg.Workers, log)
	defer streamer.Close()

	positions := make(chan mgl64.Vec3, 16)
	go func() {
		defer close(positions)
		for {
			p, err := readPosition(conn)
			if err != nil {
				cancel()
				return
			}
			select {
			case positions <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("viewer connected", "spawn", first)
	if err := streamer.Step(ctx, first); err != nil {
		return
	}
	if err := streamer.Run(ctx, positions); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("stream ended", "error", err)
	}
	log.Info("viewer disconnected", "cached", s.sess.Cache().Len())
}

// readPosition reads messages until a position arrives.
func readPosition(conn *websocket.Conn) (mgl64.Vec3, error) {
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return mgl64.Vec3{}, err
		}
		if msg.Type == "position" {
			return mgl64.Vec3{msg.X, msg.Y, msg.Z}, nil
		}
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	meta := s.sess.Meta()
	if meta == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "session not started")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	entries := s.sess.Cache().Entries()
	keys := make([]geo.CellKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Persist(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tiles": s.sess.Cache().Len()})
}

func (s *Server) handlePreviewHTML(w http.ResponseWriter, r *http.Request) {
	key, ok := s.previewKey(w, r)
	if !ok {
		return
	}
	h, _ := s.sess.Cache().Get(key)

	var buf bytes.Buffer
	if err := preview.HTML(&buf, "tile "+key.String(), h); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handlePreviewPNG(w http.ResponseWriter, r *http.Request) {
	key, ok := s.previewKey(w, r)
	if !ok {
		return
	}
	h, _ := s.sess.Cache().Get(key)

	var buf bytes.Buffer
	if err := preview.PNG(&buf, "tile "+key.String(), h, 6*vg.Inch); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// previewKey parses ?x=&z= and checks the cell is cached.
func (s *Server) previewKey(w http.ResponseWriter, r *http.Request) (geo.CellKey, bool) {
	x, errX := strconv.Atoi(r.URL.Query().Get("x"))
	z, errZ := strconv.Atoi(r.URL.Query().Get("z"))
	if errX != nil || errZ != nil {
		writeJSONError(w, http.StatusBadRequest, "x and z must be integers")
		return geo.CellKey{}, false
	}
	key := geo.CellKey{X: x, Z: z}
	if !s.sess.Cache().Has(key) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no heightmap cached for %v", key))
		return geo.CellKey{}, false
	}
	return key, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
