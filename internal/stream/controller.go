// Package stream keeps a 3×3 window of terrain tiles centered on a moving
// tracked position.
//
// Controller is a pure state machine: each Tick takes the tracked position
// and returns the tile operations needed to keep the window filled.
// Streamer drives a Controller, running generate operations on a worker
// pool and applying the results to a TerrainSink.
package stream

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCharnyshevich/geoterrain/pkg/geo"
	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

// State of a Controller.
type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "idle"
}

// OpKind is the kind of a TileOp.
type OpKind int

const (
	OpGenerate OpKind = iota
	OpEvict
)

func (k OpKind) String() string {
	if k == OpEvict {
		return "evict"
	}
	return "generate"
}

// TileOp is an instruction produced by Tick. Generate ops carry the
// generation that Deliver must echo back; evict ops carry the handle of the
// live tile, or an empty handle when the slot never went live.
type TileOp struct {
	Kind       OpKind
	Key        geo.CellKey
	Center     mgl64.Vec3
	Generation uint64
	Handle     TileHandle
}

// Params configures a Controller.
type Params struct {
	GridSize         float64     // world size of the whole 3×3 window
	ThresholdPercent float64     // hysteresis past the cell edge, percent of a cell
	Origin           *mgl64.Vec3 // lattice origin; nil uses the first tracked position
}

type slotState int

const (
	slotPending slotState = iota
	slotLive
	slotFailed
)

func (s slotState) String() string {
	switch s {
	case slotLive:
		return "live"
	case slotFailed:
		return "failed"
	}
	return "pending"
}

type slot struct {
	key    geo.CellKey
	state  slotState
	gen    uint64
	handle TileHandle
}

// SlotInfo describes one window slot.
type SlotInfo struct {
	Key        geo.CellKey
	State      string
	Generation uint64
	Handle     TileHandle
}

// Controller tracks which cells are requested and live. It is not safe for
// concurrent use; a single goroutine owns it.
type Controller struct {
	params    Params
	cell      mgl64.Vec3
	threshold float64
	boundaryX float64
	boundaryZ float64

	state   State
	lattice geo.Lattice
	spawn   geo.CellKey
	slots   map[geo.CellKey]*slot
	gen     uint64
}

// NewController validates p and returns an idle controller.
func NewController(p Params) (*Controller, error) {
	if p.GridSize <= 0 {
		return nil, fmt.Errorf("grid size must be positive, got %v", p.GridSize)
	}
	if p.ThresholdPercent < 0 {
		return nil, fmt.Errorf("threshold percent must not be negative, got %v", p.ThresholdPercent)
	}

	side := p.GridSize / heightmap.GridWidth
	c := &Controller{
		params:    p,
		cell:      mgl64.Vec3{side, side, side},
		threshold: side * p.ThresholdPercent / 100,
		slots:     make(map[geo.CellKey]*slot, heightmap.ChunkCount),
	}
	c.boundaryX = c.cell.X()/2 + c.threshold
	c.boundaryZ = c.cell.Z()/2 + c.threshold
	return c, nil
}

// State returns Idle until the first Tick.
func (c *Controller) State() State { return c.state }

// Cell returns the world size of one cell.
func (c *Controller) Cell() mgl64.Vec3 { return c.cell }

// Threshold returns the hysteresis distance past the cell edge.
func (c *Controller) Threshold() float64 { return c.threshold }

// Boundaries returns the distances from the spawn point the tracked
// position must exceed on each axis before the window shifts.
func (c *Controller) Boundaries() (x, z float64) { return c.boundaryX, c.boundaryZ }

// Lattice returns the cell lattice. Only meaningful while Tracking.
func (c *Controller) Lattice() geo.Lattice { return c.lattice }

// SpawnKey returns the cell at the center of the window.
func (c *Controller) SpawnKey() geo.CellKey { return c.spawn }

// Spawn returns the world position of the window center.
func (c *Controller) Spawn() mgl64.Vec3 { return c.lattice.Center(c.spawn) }

// Direction classifies tracked relative to the current spawn point.
func (c *Controller) Direction(tracked mgl64.Vec3) Direction {
	d := tracked.Sub(c.Spawn())
	return classify(d.X(), d.Z(), c.boundaryX, c.boundaryZ)
}

// Tick advances the controller with the latest tracked position.
//
// The first call fixes the lattice and requests the full window. Later
// calls shift the spawn point by one cell once the position crosses a
// boundary, evicting slots that fell out of the window before requesting
// the new ones. When the position has not moved far enough, slots whose
// generation failed are requested again.
func (c *Controller) Tick(tracked mgl64.Vec3) []TileOp {
	if c.state == Idle {
		origin := mgl64.Vec3{tracked.X(), 0, tracked.Z()}
		if c.params.Origin != nil {
			origin = *c.params.Origin
		}
		c.lattice = geo.Lattice{Origin: origin, Cell: c.cell}
		c.spawn = c.lattice.Key(tracked)
		c.state = Tracking
		return c.regenerate()
	}

	dir := c.Direction(tracked)
	if dir == None {
		return c.retryFailed()
	}

	dx, dz := dir.Offset()
	c.spawn = c.spawn.Add(dx, dz)
	return c.regenerate()
}

func (c *Controller) regenerate() []TileOp {
	var evicted []TileOp
	for key, s := range c.slots {
		if geo.Chebyshev(key, c.spawn) <= 1 {
			continue
		}
		delete(c.slots, key)
		op := TileOp{Kind: OpEvict, Key: key, Generation: s.gen}
		if s.state == slotLive {
			op.Handle = s.handle
		}
		evicted = append(evicted, op)
	}
	slices.SortFunc(evicted, func(a, b TileOp) int {
		return cmp.Or(cmp.Compare(a.Key.Z, b.Key.Z), cmp.Compare(a.Key.X, b.Key.X))
	})

	ops := evicted
	for i := range heightmap.ChunkCount {
		row, col, _ := heightmap.ChunkBlock(i)
		key := c.spawn.Add(col-1, row-1)
		if _, ok := c.slots[key]; ok {
			continue
		}
		ops = append(ops, c.request(key))
	}
	return ops
}

func (c *Controller) retryFailed() []TileOp {
	var ops []TileOp
	for i := range heightmap.ChunkCount {
		row, col, _ := heightmap.ChunkBlock(i)
		key := c.spawn.Add(col-1, row-1)
		if s, ok := c.slots[key]; ok && s.state == slotFailed {
			ops = append(ops, c.request(key))
		}
	}
	return ops
}

func (c *Controller) request(key geo.CellKey) TileOp {
	c.gen++
	c.slots[key] = &slot{key: key, state: slotPending, gen: c.gen}
	return TileOp{Kind: OpGenerate, Key: key, Center: c.lattice.Center(key), Generation: c.gen}
}

// Deliver hands a finished generate op back to the controller. attach is
// only called when the result is still wanted: the slot exists, is pending
// and carries the same generation. It reports whether the tile went live.
// An attach error marks the slot failed so a later Tick retries it.
func (c *Controller) Deliver(key geo.CellKey, gen uint64, attach func() (TileHandle, error)) (bool, error) {
	s := c.pendingSlot(key, gen)
	if s == nil {
		return false, nil
	}

	h, err := attach()
	if err != nil {
		s.state = slotFailed
		return false, err
	}
	s.state = slotLive
	s.handle = h
	return true, nil
}

// Fail records that a generate op could not produce a tile. It reports
// whether the failure applied to a current slot.
func (c *Controller) Fail(key geo.CellKey, gen uint64) bool {
	s := c.pendingSlot(key, gen)
	if s == nil {
		return false
	}
	s.state = slotFailed
	return true
}

func (c *Controller) pendingSlot(key geo.CellKey, gen uint64) *slot {
	s, ok := c.slots[key]
	if !ok || s.gen != gen || s.state != slotPending {
		return nil
	}
	return s
}

// ErrNotTracking is returned by Reset on an idle controller.
var ErrNotTracking = errors.New("controller is not tracking")

// Reset evicts every slot and returns the controller to Idle.
func (c *Controller) Reset() ([]TileOp, error) {
	if c.state == Idle {
		return nil, ErrNotTracking
	}
	var ops []TileOp
	for _, s := range c.Slots() {
		ops = append(ops, TileOp{Kind: OpEvict, Key: s.Key, Generation: s.Generation, Handle: s.Handle})
	}
	clear(c.slots)
	c.state = Idle
	return ops, nil
}

// Slots returns the window slots ordered by key (Z, then X).
func (c *Controller) Slots() []SlotInfo {
	out := make([]SlotInfo, 0, len(c.slots))
	for _, s := range c.slots {
		info := SlotInfo{Key: s.key, State: s.state.String(), Generation: s.gen}
		if s.state == slotLive {
			info.Handle = s.handle
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SlotInfo) int {
		return cmp.Or(cmp.Compare(a.Key.Z, b.Key.Z), cmp.Compare(a.Key.X, b.Key.X))
	})
	return out
}

// Live returns the number of live slots.
func (c *Controller) Live() int {
	n := 0
	for _, s := range c.slots {
		if s.state == slotLive {
			n++
		}
	}
	return n
}
