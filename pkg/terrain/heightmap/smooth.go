package heightmap

import "fmt"

// Smooth runs passes rounds of neighbour averaging over h in place and
// returns it.
//
// For every pixel, in row-major order, up to 3·radius earlier neighbours are
// summed: the pixel n rows up, n columns left and n steps up-left, for n in
// 1..radius, each only when its row/column index stays above 0. The pixel
// becomes (self + sum) / (count + 1). Updates are visible to later pixels of
// the same pass, so the filter leans towards the upper-left.
func Smooth(h *Heightmap, passes, radius int) (*Heightmap, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if passes < 0 || radius < 0 {
		return nil, fmt.Errorf("%w: passes=%d radius=%d", ErrInvalidGeometry, passes, radius)
	}

	w := h.Width
	d := h.Data
	for p := 0; p < passes; p++ {
		for y := 0; y < w; y++ {
			for x := 0; x < w; x++ {
				var sum float64
				count := 0
				for n := 1; n <= radius; n++ {
					up, left := y-n > 0, x-n > 0
					if up {
						sum += d[(y-n)*w+x]
						count++
					}
					if left {
						sum += d[y*w+x-n]
						count++
					}
					if up && left {
						sum += d[(y-n)*w+x-n]
						count++
					}
				}
				d[y*w+x] = (d[y*w+x] + sum) / float64(count+1)
			}
		}
	}
	return h, nil
}
