package stream

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCharnyshevich/geoterrain/pkg/geo"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

var errEmptyTile = errors.New("tile source returned no heightmap")

type result struct {
	op   TileOp
	tile *Tile
	err  error
}

// Streamer is the single writer of a Controller. It turns generate ops into
// TileSource calls, bounded by Workers, and attaches or detaches tiles on
// the sink as results arrive. All methods must be called from one goroutine.
type Streamer struct {
	ctrl    *Controller
	src     TileSource
	sink    TerrainSink
	log     *slog.Logger
	workers int

	sem      chan struct{}
	results  chan result
	done     chan struct{}
	inflight int
	cancels  map[geo.CellKey]inflightJob
}

type inflightJob struct {
	gen    uint64
	cancel context.CancelFunc
}

// NewStreamer wires a controller to a tile source and sink. With workers
// == 0 tiles are produced inline inside Step.
func NewStreamer(ctrl *Controller, src TileSource, sink TerrainSink, workers int, log *slog.Logger) *Streamer {
	s := &Streamer{
		ctrl:    ctrl,
		src:     src,
		sink:    sink,
		log:     log,
		workers: workers,
		results: make(chan result, heightmap.ChunkCount),
		done:    make(chan struct{}),
		cancels: make(map[geo.CellKey]inflightJob),
	}
	if workers > 0 {
		s.sem = make(chan struct{}, workers)
	}
	return s
}

// Controller returns the driven controller.
func (s *Streamer) Controller() *Controller { return s.ctrl }

// InFlight returns the number of tile requests not yet collected.
func (s *Streamer) InFlight() int { return s.inflight }

// Step collects finished tiles, advances the controller with tracked and
// applies the resulting ops.
func (s *Streamer) Step(ctx context.Context, tracked mgl64.Vec3) error {
	s.drain()

	for _, op := range s.ctrl.Tick(tracked) {
		switch op.Kind {
		case OpEvict:
			s.evict(op)
		case OpGenerate:
			s.generate(ctx, op)
		}
	}
	return ctx.Err()
}

// Wait blocks until every in-flight request has been collected.
func (s *Streamer) Wait(ctx context.Context) error {
	for s.inflight > 0 {
		select {
		case r := <-s.results:
			s.handle(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run steps the streamer with every position received until positions is
// closed or ctx is done, collecting tiles as they finish.
func (s *Streamer) Run(ctx context.Context, positions <-chan mgl64.Vec3) error {
	for {
		select {
		case p, ok := <-positions:
			if !ok {
				return nil
			}
			if err := s.Step(ctx, p); err != nil {
				return err
			}
		case r := <-s.results:
			s.handle(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels outstanding requests and detaches every live tile. The
// streamer must not be used afterwards.
func (s *Streamer) Close() error {
	close(s.done)
	for key, job := range s.cancels {
		job.cancel()
		delete(s.cancels, key)
	}

	ops, err := s.ctrl.Reset()
	if errors.Is(err, ErrNotTracking) {
		return nil
	}
	var errs []error
	for _, op := range ops {
		if op.Handle == "" {
			continue
		}
		if err := s.sink.Detach(op.Handle); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Streamer) drain() {
	for {
		select {
		case r := <-s.results:
			s.handle(r)
		default:
			return
		}
	}
}

func (s *Streamer) evict(op TileOp) {
	if job, ok := s.cancels[op.Key]; ok && job.gen == op.Generation {
		job.cancel()
		delete(s.cancels, op.Key)
	}
	if op.Handle == "" {
		return
	}
	if err := s.sink.Detach(op.Handle); err != nil {
		s.log.Warn("detach tile", "key", op.Key, "error", err)
	}
}

func (s *Streamer) generate(ctx context.Context, op TileOp) {
	if s.workers == 0 {
		t, err := s.src.Tile(ctx, op.Key, op.Center)
		s.apply(result{op: op, tile: t, err: err})
		return
	}

	jctx, cancel := context.WithCancel(ctx)
	if prev, ok := s.cancels[op.Key]; ok {
		prev.cancel()
	}
	s.cancels[op.Key] = inflightJob{gen: op.Generation, cancel: cancel}
	s.inflight++

	go func() {
		defer cancel()
		r := result{op: op}
		select {
		case s.sem <- struct{}{}:
			r.tile, r.err = s.src.Tile(jctx, op.Key, op.Center)
			<-s.sem
		case <-jctx.Done():
			r.err = jctx.Err()
		}
		select {
		case s.results <- r:
		case <-s.done:
		}
	}()
}

func (s *Streamer) handle(r result) {
	s.inflight--
	if job, ok := s.cancels[r.op.Key]; ok && job.gen == r.op.Generation {
		delete(s.cancels, r.op.Key)
	}
	s.apply(r)
}

func (s *Streamer) apply(r result) {
	key, gen := r.op.Key, r.op.Generation
	if r.err == nil && (r.tile == nil || r.tile.Heightmap == nil) {
		r.err = errEmptyTile
	}
	if r.err != nil {
		if s.ctrl.Fail(key, gen) {
			s.log.Warn("tile generation failed", "key", key, "error", r.err)
		}
		return
	}

	live, err := s.ctrl.Deliver(key, gen, func() (TileHandle, error) {
		return s.sink.Attach(r.tile)
	})
	switch {
	case err != nil:
		s.log.Warn("attach tile", "key", key, "error", err)
	case live:
		s.log.Debug("tile attached", "key", key, "fallback", r.tile.Fallback)
	default:
		s.log.Debug("stale tile discarded", "key", key, "generation", gen)
	}
}
