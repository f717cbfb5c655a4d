package heightmap

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestInterpolateDimensions(t *testing.T) {
	tests := []struct {
		rows, width int
	}{
		{1, 4},
		{3, 9},
		{4, 16},
		{8, 48},
		{32, 512},
	}

	rng := rand.New(rand.NewSource(7))
	for _, tt := range tests {
		samples := make([]int, tt.rows*tt.rows)
		for i := range samples {
			samples[i] = 100 + rng.Intn(2000)
		}
		h, err := Interpolate(samples, tt.rows, tt.width, 12)
		if err != nil {
			t.Fatalf("Interpolate(rows=%d, width=%d): %v", tt.rows, tt.width, err)
		}
		if h.Width != tt.width || len(h.Data) != tt.width*tt.width {
			t.Errorf("rows=%d: got %d values (width %d), want %d", tt.rows, len(h.Data), h.Width, tt.width*tt.width)
		}
	}
}

func TestInterpolateAnchorsWithinZoomScale(t *testing.T) {
	const rows, width, zoom = 8, 64, 15
	rng := rand.New(rand.NewSource(42))
	samples := make([]int, rows*rows)
	lo, hi := math.MaxInt, math.MinInt
	for i := range samples {
		samples[i] = 200 + rng.Intn(3000)
		lo = min(lo, samples[i])
		hi = max(hi, samples[i])
	}

	h, err := Interpolate(samples, rows, width, zoom)
	if err != nil {
		t.Fatal(err)
	}

	scale := ZoomScale(float64(lo), float64(hi), zoom)
	step := width / rows
	for r := 0; r < width; r += step {
		for c := 0; c < width; c += step {
			v := h.At(r, c)
			if v < 0 || v > scale {
				t.Fatalf("anchor (%d,%d) = %f, want within [0, %f]", r, c, v, scale)
			}
		}
	}
}

func TestInterpolateConstantIsFlat(t *testing.T) {
	samples := make([]int, 16)
	for i := range samples {
		samples[i] = 1234
	}

	h, err := Interpolate(samples, 4, 32, 12)
	if err != nil {
		t.Fatal(err)
	}
	base := h.At(0, 0)
	for i, v := range h.Data {
		if v != base {
			t.Fatalf("pixel %d = %f, want baseline %f", i, v, base)
		}
	}
}

func TestInterpolateDegenerateInputs(t *testing.T) {
	tests := []struct {
		name    string
		samples []int
		rows    int
	}{
		{"empty", nil, 4},
		{"single sample", []int{950}, 1},
		{"all below sea level", []int{-3, -3, -3, -3}, 2},
	}

	for _, tt := range tests {
		h, err := Interpolate(tt.samples, tt.rows, 8, 10)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if st := h.Stats(); st.Min != 0 || st.Max != 0 {
			t.Errorf("%s: got range [%f, %f], want flat 0", tt.name, st.Min, st.Max)
		}
	}
}

func TestInterpolateErrors(t *testing.T) {
	tests := []struct {
		name    string
		samples []int
		rows    int
		width   int
		zoom    int
		want    error
	}{
		{"width not divisible", []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3, 10, 12, ErrInvalidGeometry},
		{"sample count mismatch", []int{1, 2, 3}, 2, 8, 12, ErrInvalidGeometry},
		{"zero rows", []int{1}, 0, 8, 12, ErrInvalidGeometry},
		{"zoom too low", []int{1, 2, 3, 4}, 2, 8, 0, ErrInvalidZoom},
		{"zoom too high", []int{1, 2, 3, 4}, 2, 8, MaxZoom + 1, ErrInvalidZoom},
	}

	for _, tt := range tests {
		h, err := Interpolate(tt.samples, tt.rows, tt.width, tt.zoom)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		if h != nil {
			t.Errorf("%s: expected no heightmap on error", tt.name)
		}
	}
}

func TestInterpolateAlternatingScenario(t *testing.T) {
	samples := []int{10, 20, 10, 20, 10, 20, 10, 20, 10}
	h, err := Interpolate(samples, 3, 9, 12)
	if err != nil {
		t.Fatal(err)
	}

	// minElev=10, maxElev=20: zoomScale = 11/20 * 10/10.
	scale := 11.0 / 20.0
	high := 10.0 / (MaxReach - 10) * scale

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			want := 0.0
			if samples[r*3+c] == 20 {
				want = high
			}
			if got := h.At(r*3, c*3); math.Abs(got-want) > 1e-12 {
				t.Errorf("anchor (%d,%d) = %g, want %g", r*3, c*3, got, want)
			}
		}
	}

	// Block anchored at (0,3) holds a high sample.
	prev := h.At(0, 3)
	for _, off := range [][2]int{{0, 1}, {1, 1}, {1, 2}, {2, 2}} {
		v := h.At(off[0], 3+off[1])
		if v <= 0 || v >= high {
			t.Errorf("offset %v = %g, want strictly within (0, %g)", off, v, high)
		}
		if v >= prev {
			t.Errorf("offset %v = %g, want below %g (further from anchor)", off, v, prev)
		}
		prev = v
	}

	if got, want := h.At(1, 4), high*2/3; math.Abs(got-want) > 1e-12 {
		t.Errorf("diagonal neighbour = %g, want %g", got, want)
	}

	// Blocks anchored on low samples stay at zero.
	for m := 0; m < 3; m++ {
		for n := 0; n < 3; n++ {
			if v := h.At(m, n); v != 0 {
				t.Errorf("low block (%d,%d) = %g, want 0", m, n, v)
			}
		}
	}
}

func TestInterpolateNegativeSamplesFloored(t *testing.T) {
	h, err := Interpolate([]int{-10, 100, 50, 20}, 2, 4, 21)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range h.Data {
		if v < 0 {
			t.Fatalf("pixel %d = %f, want >= 0", i, v)
		}
	}
	if h.At(0, 2) <= 0 {
		t.Errorf("anchor of highest sample = %f, want > 0", h.At(0, 2))
	}
}
