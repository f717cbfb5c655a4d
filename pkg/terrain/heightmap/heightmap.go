// Package heightmap turns sparse elevation samples into dense terrain
// heightmaps and cuts them into the 3×3 tiles streamed around a viewer.
//
// All functions are pure: they either return a complete result or an
// error, never a partially written heightmap.
package heightmap

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidGeometry reports a dimension or divisibility mismatch.
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrInvalidZoom reports a zoom level outside [1, MaxZoom].
	ErrInvalidZoom = errors.New("invalid zoom")
	// ErrInvalidChunk reports a chunk index outside 0..8.
	ErrInvalidChunk = errors.New("invalid chunk index")
)

// Heightmap is a square grid of normalized heights stored row-major.
// Row index grows northwards (world +Z), column index eastwards (world +X).
type Heightmap struct {
	Width int
	Data  []float64
}

// New allocates a zeroed width×width heightmap.
func New(width int) *Heightmap {
	return &Heightmap{Width: width, Data: make([]float64, width*width)}
}

// Flat returns a width×width heightmap with every cell set to value.
// It is the fallback terrain used when synthesis is impossible.
func Flat(width int, value float64) *Heightmap {
	h := New(width)
	if value != 0 {
		for i := range h.Data {
			h.Data[i] = value
		}
	}
	return h
}

// At returns the height at (row, col).
func (h *Heightmap) At(row, col int) float64 {
	return h.Data[row*h.Width+col]
}

// Set stores v at (row, col).
func (h *Heightmap) Set(row, col int, v float64) {
	h.Data[row*h.Width+col] = v
}

// Clone returns a deep copy of h.
func (h *Heightmap) Clone() *Heightmap {
	c := &Heightmap{Width: h.Width, Data: make([]float64, len(h.Data))}
	copy(c.Data, h.Data)
	return c
}

// Validate checks that Data holds exactly Width×Width values.
func (h *Heightmap) Validate() error {
	if h == nil {
		return fmt.Errorf("%w: nil heightmap", ErrInvalidGeometry)
	}
	if h.Width <= 0 || len(h.Data) != h.Width*h.Width {
		return fmt.Errorf("%w: width %d with %d values", ErrInvalidGeometry, h.Width, len(h.Data))
	}
	return nil
}

// Stats summarizes the value distribution of a heightmap.
type Stats struct {
	Min      float64
	Max      float64
	Mean     float64
	Variance float64
}

// Stats returns min, max, mean and (unbiased) variance of all values.
func (h *Heightmap) Stats() Stats {
	if len(h.Data) == 0 {
		return Stats{}
	}
	mean, variance := stat.MeanVariance(h.Data, nil)
	if len(h.Data) == 1 {
		variance = 0
	}
	return Stats{
		Min:      floats.Min(h.Data),
		Max:      floats.Max(h.Data),
		Mean:     mean,
		Variance: variance,
	}
}
