package heightmap

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSmoothZeroPassesUnchanged(t *testing.T) {
	h := noisy(16, 3)
	orig := h.Clone()

	got, err := Smooth(h, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig.Data, got.Data); diff != "" {
		t.Errorf("Smooth with 0 passes changed data (-want +got):\n%s", diff)
	}
}

func TestSmoothUpperLeftBias(t *testing.T) {
	h := &Heightmap{Width: 3, Data: []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}}

	got, err := Smooth(h, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{
		1, 2, 2.5,
		4, 5, 5.5,
		5.5, 6.5, 6.5,
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("Smooth mismatch (-want +got):\n%s", diff)
	}
}

func TestSmoothReducesVariance(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		prev := framedNoise(32, seed).Stats().Variance
		for _, passes := range []int{1, 2, 4, 8} {
			h, err := Smooth(framedNoise(32, seed), passes, 2)
			if err != nil {
				t.Fatal(err)
			}
			v := h.Stats().Variance
			if v >= prev {
				t.Errorf("seed %d passes %d: variance %f, want below %f", seed, passes, v, prev)
			}
			prev = v
		}
	}
}

func TestSmoothRejectsBadInput(t *testing.T) {
	h := noisy(8, 1)
	orig := h.Clone()

	if _, err := Smooth(h, -1, 2); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("negative passes: err = %v, want ErrInvalidGeometry", err)
	}
	if _, err := Smooth(h, 1, -2); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("negative radius: err = %v, want ErrInvalidGeometry", err)
	}
	if _, err := Smooth(&Heightmap{Width: 4, Data: make([]float64, 3)}, 1, 1); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("short data: err = %v, want ErrInvalidGeometry", err)
	}
	if diff := cmp.Diff(orig.Data, h.Data); diff != "" {
		t.Errorf("rejected call modified the heightmap:\n%s", diff)
	}
}

func noisy(width int, seed int64) *Heightmap {
	rng := rand.New(rand.NewSource(seed))
	h := New(width)
	for i := range h.Data {
		h.Data[i] = rng.Float64()
	}
	return h
}

// framedNoise is noise inside a two-pixel zero frame along the top and left
// edges. Those edge pixels only ever average among themselves, so keeping
// them constant lets the whole map settle towards a single value.
func framedNoise(width int, seed int64) *Heightmap {
	h := noisy(width, seed)
	for y := 0; y < width; y++ {
		for x := 0; x < width; x++ {
			if y < 2 || x < 2 {
				h.Set(y, x, 0)
			}
		}
	}
	return h
}
